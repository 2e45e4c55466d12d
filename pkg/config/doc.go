// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from CALLTRACKER_* environment
// variables with sensible defaults for all settings except the session secret.
//
// # Configuration Structure
//
// Server settings:
//
//	CALLTRACKER_SERVER_HOST="0.0.0.0"
//	CALLTRACKER_SERVER_PORT="8080"
//	CALLTRACKER_SERVER_HEALTH_PORT="9090"
//	CALLTRACKER_SERVER_PUBLIC_RATE_LIMIT="30"
//
// Credential settings:
//
//	CALLTRACKER_AUTH_JWT_SECRET="at-least-32-bytes-of-secret-material"
//	CALLTRACKER_AUTH_SESSION_TTL="24h"
//
// Invitation settings:
//
//	CALLTRACKER_INVITATIONS_BASE_URL="https://app.example.com"
//	CALLTRACKER_INVITATIONS_EXPIRY="168h"
//	CALLTRACKER_INVITATIONS_REMINDER_SCHEDULE="30 9 * * *"
//	CALLTRACKER_INVITATIONS_WEBHOOK_URL="https://mailer.internal/hooks/invitations"
//	CALLTRACKER_INVITATIONS_WEBHOOK_SECRET="..."
//
// Storage settings:
//
//	CALLTRACKER_STORAGE_TYPE="postgres"  # memory, postgres
//	CALLTRACKER_STORAGE_POSTGRES_URL="postgres://localhost/calltracker"
//	CALLTRACKER_STORAGE_REDIS_URL="redis://localhost:6379"
//
// Observability settings:
//
//	CALLTRACKER_LOG_LEVEL="info"  # debug, info, warn, error
//	CALLTRACKER_METRICS_ENABLED="true"
//	CALLTRACKER_OTEL_ENABLED="true"
//	CALLTRACKER_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	svc := invitations.NewService(deps, cfg.InvitationSettings())
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/invitations: Uses invitation and schedule configuration
//   - pkg/observability: Uses observability configuration
package config
