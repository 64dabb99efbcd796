// Package config loads the task manager's configuration structs.
//
// Values come from three layers, later layers winning:
//
//  1. envDefault tags,
//  2. the process environment, seeded once from ./.env if present
//     (github.com/joho/godotenv) and parsed with github.com/caarlos0/env/v11,
//  3. an optional YAML file passed to LoadFile (gopkg.in/yaml.v3).
//
// Every loaded struct is checked with github.com/go-playground/validator/v10
// using its validate tags. Nested structs and slices are validated with dive.
//
//	type WorkerConfig struct {
//	    Partitions int           `env:"QUEUE_PARTITIONS" envDefault:"4" yaml:"partitions" validate:"gte=1"`
//	    IdlePoll   time.Duration `env:"QUEUE_IDLE_POLL" envDefault:"1s" yaml:"idle_poll"`
//	}
//
//	var cfg WorkerConfig
//	if err := config.LoadFile("taskmanager.yaml", &cfg); err != nil {
//	    return err
//	}
//
// Load caches the parsed value per struct type, so every component asking
// for the same type gets the same values without parsing again. A failed
// load is not cached. Tests use ResetCache or ForceReloadConfig after
// changing the environment. LoadFile is never cached.
//
// Errors wrap ErrParsingConfig, ErrInvalidConfig, ErrReadingFile or
// ErrLoadingEnvFile and can be matched with errors.Is.
package config
