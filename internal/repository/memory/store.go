// Package memory is an in-process tabular store for tests and local runs.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository"
)

var (
	_ repository.TabularStore      = &Store{}
	_ repository.PatientRepository = &patients{}
)

// Hook runs before every operation; a non-nil error aborts it.
type Hook func(op, table, id string) error

type Store struct {
	mu     sync.Mutex
	txMu   sync.Mutex
	tables map[string]map[string]model.Row
	// Hook is consulted before every operation when set.
	Hook Hook
}

func NewStore(tables ...string) *Store {
	s := &Store{tables: make(map[string]map[string]model.Row, len(tables))}
	for _, t := range tables {
		s.tables[t] = map[string]model.Row{}
	}
	return s
}

func (s *Store) Get(ctx context.Context, table, id string) (model.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(s.tables).Get(ctx, table, id)
}

func (s *Store) List(ctx context.Context, table string, filter map[string]interface{}, page, limit int) ([]model.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(s.tables).List(ctx, table, filter, page, limit)
}

func (s *Store) SelectAll(ctx context.Context, table string) ([]model.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(s.tables).SelectAll(ctx, table)
}

func (s *Store) Insert(ctx context.Context, table string, row model.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(s.tables).Insert(ctx, table, row)
}

func (s *Store) Update(ctx context.Context, table, id string, partial model.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(s.tables).Update(ctx, table, id, partial)
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(s.tables).Delete(ctx, table, id)
}

// WithTransaction runs fn against a copy and swaps it in on success.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx repository.TabularTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	work := cloneTables(s.tables)
	s.mu.Unlock()

	if err := fn(s.view(work)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.tables = work
	s.mu.Unlock()
	return nil
}

// Count returns the number of rows in table.
func (s *Store) Count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

// Patients exposes the patients table through the typed repository.
func (s *Store) Patients() repository.PatientRepository {
	return &patients{store: s}
}

func (s *Store) view(tables map[string]map[string]model.Row) *tableView {
	return &tableView{tables: tables, hook: s.Hook}
}

type tableView struct {
	tables map[string]map[string]model.Row
	hook   Hook
}

func (v *tableView) table(op, name, id string) (map[string]model.Row, error) {
	if v.hook != nil {
		if err := v.hook(op, name, id); err != nil {
			return nil, err
		}
	}
	t, ok := v.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: table %q", repository.ErrInvalidName, name)
	}
	return t, nil
}

func (v *tableView) Get(_ context.Context, table, id string) (model.Row, error) {
	t, err := v.table("get", table, id)
	if err != nil {
		return nil, err
	}
	row, ok := t[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneRow(row), nil
}

func (v *tableView) List(_ context.Context, table string, filter map[string]interface{}, page, limit int) ([]model.Row, error) {
	t, err := v.table("list", table, "")
	if err != nil {
		return nil, err
	}
	p := model.Pagination{Page: page, PageSize: limit}.Normalize()

	var out []model.Row
	for _, id := range sortedIDs(t) {
		if matches(t[id], filter) {
			out = append(out, cloneRow(t[id]))
		}
	}
	start := p.Offset()
	if start >= len(out) {
		return []model.Row{}, nil
	}
	end := start + p.PageSize
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (v *tableView) SelectAll(_ context.Context, table string) ([]model.Row, error) {
	t, err := v.table("select", table, "")
	if err != nil {
		return nil, err
	}
	out := make([]model.Row, 0, len(t))
	for _, id := range sortedIDs(t) {
		out = append(out, cloneRow(t[id]))
	}
	return out, nil
}

func (v *tableView) Insert(_ context.Context, table string, row model.Row) error {
	id := rowID(row)
	t, err := v.table("insert", table, id)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("failed to insert into %s: row has no id", table)
	}
	if _, ok := t[id]; ok {
		return fmt.Errorf("%w: %s %s", repository.ErrDuplicateKey, table, id)
	}
	t[id] = cloneRow(row)
	return nil
}

func (v *tableView) Update(_ context.Context, table, id string, partial model.Row) error {
	t, err := v.table("update", table, id)
	if err != nil {
		return err
	}
	row, ok := t[id]
	if !ok {
		return repository.ErrNotFound
	}
	updated := cloneRow(row)
	for k, val := range partial {
		updated[k] = val
	}
	newID := rowID(updated)
	if newID != id {
		if _, taken := t[newID]; taken {
			return fmt.Errorf("%w: %s %s", repository.ErrDuplicateKey, table, newID)
		}
		delete(t, id)
	}
	t[newID] = updated
	return nil
}

func (v *tableView) Delete(_ context.Context, table, id string) error {
	t, err := v.table("delete", table, id)
	if err != nil {
		return err
	}
	if _, ok := t[id]; !ok {
		return repository.ErrNotFound
	}
	delete(t, id)
	return nil
}

func (v *tableView) Truncate(_ context.Context, table string) error {
	if _, err := v.table("truncate", table, ""); err != nil {
		return err
	}
	v.tables[table] = map[string]model.Row{}
	return nil
}

func rowID(row model.Row) string {
	if row == nil || row["id"] == nil {
		return ""
	}
	return fmt.Sprint(row["id"])
}

func matches(row model.Row, filter map[string]interface{}) bool {
	for k, want := range filter {
		if fmt.Sprint(row[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func sortedIDs(t map[string]model.Row) []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cloneRow(row model.Row) model.Row {
	out := make(model.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func cloneTables(tables map[string]map[string]model.Row) map[string]map[string]model.Row {
	out := make(map[string]map[string]model.Row, len(tables))
	for name, t := range tables {
		c := make(map[string]model.Row, len(t))
		for id, row := range t {
			c[id] = cloneRow(row)
		}
		out[name] = c
	}
	return out
}

// patients maps typed records onto rows of the patients table using their
// json column names.
type patients struct {
	store *Store
}

func (p *patients) Create(ctx context.Context, patient *model.Patient) error {
	now := time.Now().UTC()
	patient.CreatedAt = now
	patient.UpdatedAt = now
	row, err := toRow(patient)
	if err != nil {
		return err
	}
	return p.store.Insert(ctx, "patients", row)
}

func (p *patients) Get(ctx context.Context, id string) (*model.Patient, error) {
	row, err := p.store.Get(ctx, "patients", id)
	if err != nil {
		return nil, err
	}
	return fromRow(row)
}

func (p *patients) Exists(ctx context.Context, id string) (bool, error) {
	_, err := p.store.Get(ctx, "patients", id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	}
	return false, err
}

func (p *patients) Update(ctx context.Context, patient *model.Patient) error {
	patient.UpdatedAt = time.Now().UTC()
	row, err := toRow(patient)
	if err != nil {
		return err
	}
	return p.store.Update(ctx, "patients", patient.ID, row)
}

func (p *patients) Delete(ctx context.Context, id string) (*model.Patient, error) {
	patient, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.store.Delete(ctx, "patients", id); err != nil {
		return nil, err
	}
	return patient, nil
}

func (p *patients) List(ctx context.Context, filter *model.PatientFilter) ([]*model.Patient, int, error) {
	if filter == nil {
		filter = &model.PatientFilter{}
	}
	rows, err := p.store.SelectAll(ctx, "patients")
	if err != nil {
		return nil, 0, err
	}

	search := strings.ToLower(filter.Search)
	var all []*model.Patient
	for _, row := range rows {
		patient, err := fromRow(row)
		if err != nil {
			return nil, 0, err
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(patient.FirstName), search) &&
			!strings.Contains(strings.ToLower(patient.LastName), search) &&
			!strings.Contains(patient.PhoneNumber, filter.Search) &&
			!strings.Contains(strings.ToLower(patient.ID), search) {
			continue
		}
		all = append(all, patient)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	page := filter.Pagination.Normalize()
	start := page.Offset()
	if start >= len(all) {
		return []*model.Patient{}, len(all), nil
	}
	end := start + page.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func toRow(patient *model.Patient) (model.Row, error) {
	b, err := json.Marshal(patient)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var row model.Row
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}

func fromRow(row model.Row) (*model.Patient, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	var patient model.Patient
	if err := json.Unmarshal(b, &patient); err != nil {
		return nil, err
	}
	return &patient, nil
}
