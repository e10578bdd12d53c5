package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/installd/internal/config"
	"github.com/dokzlo13/installd/internal/workload"
)

// ResolveWorkloads gathers workloads from the inline config, the catalog
// file and the Lua script, in that order. With no source configured the
// default toolchain catalog is used. Components are then filtered for the
// current platform.
func ResolveWorkloads(ctx context.Context, cfg *config.Config) ([]workload.Workload, error) {
	var all []workload.Workload
	all = append(all, cfg.Workloads...)

	if cfg.Catalog != "" {
		fromFile, err := workload.LoadFile(cfg.Catalog)
		if err != nil {
			return nil, err
		}
		log.Info().Str("catalog", cfg.Catalog).Int("workloads", len(fromFile)).Msg("Loaded workload catalog")
		all = append(all, fromFile...)
	}

	if cfg.Script != "" {
		fromScript, err := workload.LoadScript(ctx, cfg.Script, workload.CurrentPlatform())
		if err != nil {
			return nil, err
		}
		log.Info().Str("script", cfg.Script).Int("workloads", len(fromScript)).Msg("Loaded workloads from script")
		all = append(all, fromScript...)
	}

	if len(all) == 0 {
		log.Info().Msg("No workloads configured, using default catalog")
		all = workload.Default()
	}

	if err := workload.Validate(all); err != nil {
		return nil, err
	}
	return workload.Filter(all, workload.CurrentPlatform())
}
