package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taleforge-server/internal/models"
)

// Setting keys recognized in admin_settings.
const (
	SettingTextProviders    = "text_providers"
	SettingImageProviders   = "image_providers"
	SettingTTSProviders     = "tts_providers"
	SettingGenerationTuning = "generation_tuning"
)

const getSettingSQL = `
SELECT value FROM admin_settings WHERE key = $1`

const upsertSettingSQL = `
INSERT INTO admin_settings (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

type pgSettingsRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ SettingsRepository = (*pgSettingsRepository)(nil)

func NewPgSettingsRepository(pool *pgxpool.Pool, logger *zap.Logger) *pgSettingsRepository {
	return &pgSettingsRepository{
		pool:   pool,
		logger: logger.Named("pg_settings_repo"),
	}
}

// GetGenerationSettings merges stored provider chains over the compiled-in
// defaults. A missing or unreadable row leaves the default for that kind.
func (r *pgSettingsRepository) GetGenerationSettings(ctx context.Context) (models.GenerationSettings, error) {
	settings := models.DefaultGenerationSettings()

	if chain, ok := r.readChain(ctx, SettingTextProviders); ok {
		settings.Text = chain
	}
	if chain, ok := r.readChain(ctx, SettingImageProviders); ok {
		settings.Image = chain
	}
	if chain, ok := r.readChain(ctx, SettingTTSProviders); ok {
		settings.TTS = chain
	}
	if tuning, ok := r.readTuning(ctx); ok {
		settings.Tuning = tuning
	}
	return settings, nil
}

func (r *pgSettingsRepository) readTuning(ctx context.Context) (models.GenerationTuning, bool) {
	var raw []byte
	err := r.pool.QueryRow(ctx, getSettingSQL, SettingGenerationTuning).Scan(&raw)
	if err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Warn("Failed to read tuning setting, using default", zap.Error(err))
		}
		return models.GenerationTuning{}, false
	}
	tuning := models.DefaultGenerationSettings().Tuning
	if err := json.Unmarshal(raw, &tuning); err != nil {
		r.logger.Warn("Malformed tuning setting, using default", zap.Error(err))
		return models.GenerationTuning{}, false
	}
	return tuning, true
}

func (r *pgSettingsRepository) readChain(ctx context.Context, key string) (models.ProviderChain, bool) {
	var raw []byte
	err := r.pool.QueryRow(ctx, getSettingSQL, key).Scan(&raw)
	if err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Warn("Failed to read admin setting, using default",
				zap.String("key", key), zap.Error(err))
		}
		return models.ProviderChain{}, false
	}
	var chain models.ProviderChain
	if err := json.Unmarshal(raw, &chain); err != nil || chain.Primary == "" {
		r.logger.Warn("Malformed admin setting, using default",
			zap.String("key", key), zap.Error(err))
		return models.ProviderChain{}, false
	}
	return chain, true
}

func (r *pgSettingsRepository) UpsertProviderChain(ctx context.Context, key string, chain models.ProviderChain) error {
	value, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("failed to marshal provider chain: %w", err)
	}
	if _, err := r.pool.Exec(ctx, upsertSettingSQL, key, value); err != nil {
		return fmt.Errorf("failed to upsert setting %s: %w", key, err)
	}
	return nil
}
