package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load config from file into the config struct, config must be a pointer to the config struct.
// Values already set in config are defaults. Every key can be overridden by an environment
// variable named after its path, e.g. REDIS_PREFIX for redis.prefix.
func Load(file string, config any) error {
	v := viper.New()

	if err := setDefaults(v, "", config); err != nil {
		return err
	}

	v.SetConfigFile(file)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config from file %s: %v", file, err)
	}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}

// setDefaults registers every leaf of config as a default, so that env overrides also apply
// to keys missing from the file.
func setDefaults(v *viper.Viper, prefix string, config any) error {
	m := make(map[string]any)
	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}

		if reflect.Indirect(reflect.ValueOf(val)).Kind() == reflect.Struct {
			if err := setDefaults(v, key, val); err != nil {
				return err
			}
			continue
		}

		v.SetDefault(key, val)
	}

	return nil
}
