package firebolt

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/rudderlabs/rudder-go-kit/config"

	"github.com/querylayer/firebolt-driver/client"
)

// Connection parameter keys, resolved under FIREBOLT.<dataSource>.<key>.
const (
	keyUser                  = "user"
	keyPassword              = "password"
	keyDatabase              = "database"
	keyAccount               = "account"
	keyEngineName            = "engineName"
	keyEngineEndpoint        = "engineEndpoint"
	keyAPIEndpoint           = "apiEndpoint"
	keyReadOnly              = "readOnly"
	keyPoolSize              = "poolSize"
	keyConnectionTimeout     = "connectionTimeout"
	keyTestConnectionTimeout = "testConnectionTimeout"
)

const defaultAPIEndpoint = "api.app.firebolt.io"

// testConnectionTimeout defaults to two minutes so that connection validation
// tolerates a cold-starting engine.
const defaultTestConnectionTimeout = 2 * time.Minute

// settings resolves connection parameters for one logical data source.
// Caller-supplied overrides win over named configuration values.
type settings struct {
	dataSource string
	conf       *config.Config
	overrides  map[string]any
}

func (s settings) get(key, defaultValue string) string {
	if v, ok := s.overrides[key]; ok {
		return cast.ToString(v)
	}
	return s.conf.GetString(fmt.Sprintf("FIREBOLT.%s.%s", s.dataSource, key), defaultValue)
}

func (s settings) getBool(key string, defaultValue bool) bool {
	if v, ok := s.overrides[key]; ok {
		return cast.ToBool(v)
	}
	return s.conf.GetBool(fmt.Sprintf("FIREBOLT.%s.%s", s.dataSource, key), defaultValue)
}

func (s settings) getInt(key string, defaultValue int) int {
	if v, ok := s.overrides[key]; ok {
		return cast.ToInt(v)
	}
	return s.conf.GetInt(fmt.Sprintf("FIREBOLT.%s.%s", s.dataSource, key), defaultValue)
}

func (s settings) getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, ok := s.overrides[key]; ok {
		if d := cast.ToDuration(v); d > 0 {
			return d
		}
	}
	return s.conf.GetDuration(fmt.Sprintf("FIREBOLT.%s.%s", s.dataSource, key), int64(defaultValue/time.Second), time.Second)
}

// connectionConfig builds the immutable ConnectionConfig for a data source.
// A username containing '@' selects username/password authentication,
// anything else is treated as a service-account client id with the password
// field carrying the secret.
func (s settings) connectionConfig() client.ConnectionConfig {
	var (
		user     = s.get(keyUser, "")
		password = s.get(keyPassword, "")
	)

	cc := client.ConnectionConfig{
		Database:       s.get(keyDatabase, ""),
		Account:        s.get(keyAccount, ""),
		EngineName:     s.get(keyEngineName, ""),
		EngineEndpoint: s.get(keyEngineEndpoint, ""),
		APIEndpoint:    s.get(keyAPIEndpoint, defaultAPIEndpoint),
		ClientTag:      fmt.Sprintf("querylayer-firebolt-driver/%s", uuid.NewString()),
	}

	if strings.Contains(user, "@") {
		cc.Username = user
		cc.Password = password
	} else {
		cc.ClientID = user
		cc.ClientSecret = password
	}
	return cc
}
