package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

var (
	// cache holds the last successfully loaded value per config type.
	cache sync.Map

	// loads collapses concurrent first loads of the same type into one parse.
	loads singleflight.Group

	dotenv sync.Once

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// seedDotenv loads ./.env into the environment once per process. A missing
// file is not an error; variables already set are kept.
func seedDotenv() {
	dotenv.Do(func() { _ = godotenv.Load() })
}

// Load fills v from the environment and validates it. The result is cached
// per type and later calls copy the cached value into v.
//
//	var cfg queue.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	seedDotenv()

	key := typeKey[T]()
	if cached, ok := cache.Load(key); ok {
		*v = cached.(T)
		return nil
	}

	res, err, _ := loads.Do(key, func() (any, error) {
		if cached, ok := cache.Load(key); ok {
			return cached, nil
		}
		var fresh T
		if err := parse(&fresh); err != nil {
			return nil, err
		}
		cache.Store(key, fresh)
		return fresh, nil
	})
	if err != nil {
		return err
	}

	loaded, ok := res.(T)
	if !ok {
		return ErrConfigNotLoaded
	}
	*v = loaded
	return nil
}

// MustLoad is Load that panics on error.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

// ForceReloadConfig drops the cached value for T and loads it again.
func ForceReloadConfig[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	cache.Delete(typeKey[T]())
	return Load(v)
}

// ResetCache drops every cached config.
func ResetCache() {
	cache.Range(func(k, _ any) bool {
		cache.Delete(k)
		return true
	})
}

// LoadEnv loads the given .env files into the process environment. Later
// files override earlier ones and the current environment. With no
// arguments ./.env is used.
func LoadEnv(paths ...string) error {
	if err := godotenv.Overload(paths...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// MustLoadEnv is LoadEnv that panics on error.
func MustLoadEnv(paths ...string) {
	if err := LoadEnv(paths...); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

// LoadFile fills v from the environment and then overlays the YAML file at
// path, so values set in the file win over environment and defaults. The
// result is validated. LoadFile does not use the cache.
func LoadFile[T any](path string, v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	seedDotenv()

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Join(ErrReadingFile, err)
	}
	if err := yaml.Unmarshal(raw, v); err != nil {
		return errors.Join(ErrReadingFile, err)
	}

	return Validate(v)
}

// Validate runs struct validation on v.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	return nil
}

func parse[T any](v *T) error {
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return Validate(v)
}

func typeKey[T any]() string {
	return reflect.TypeFor[T]().String()
}
