package main

import (
	"fmt"
	"os"

	"github.com/jwalitptl/clinic-records/internal/app"
	"github.com/jwalitptl/clinic-records/internal/clinicctl"
	"github.com/jwalitptl/clinic-records/internal/config"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

func main() {
	open := func() (*clinicctl.Deps, func(), error) {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, nil, err
		}
		log := logger.NewLogger(&logger.Config{
			Level: logger.ParseLevel(cfg.Log.Level),
			JSON:  cfg.Log.JSON,
		})
		a, err := app.New(cfg, log, "cli")
		if err != nil {
			return nil, nil, err
		}
		return &clinicctl.Deps{Users: a.Users, Backups: a.Backups}, func() { a.Close() }, nil
	}

	if err := clinicctl.GetApp(open).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
