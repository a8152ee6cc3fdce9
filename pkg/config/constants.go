package config

// EnvPrefix namespaces every environment variable the platform reads.
const EnvPrefix = "VENUECAST"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvAppEnv = "VENUECAST_APP_ENV"
	EnvPort   = "VENUECAST_APP_PORT"

	EnvDBDSN  = "VENUECAST_DB_DSN"
	EnvDBHost = "VENUECAST_DB_HOST"
	EnvDBUser = "VENUECAST_DB_USER"
	EnvDBName = "VENUECAST_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
