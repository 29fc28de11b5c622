package core

import "strings"

// Environment is the deployment environment. It selects the log format and level.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

var environmentAliases = map[string]Environment{
	"development": Development,
	"dev":         Development,
	"local":       Development,
	"staging":     Staging,
	"stage":       Staging,
	"testing":     Testing,
	"test":        Testing,
	"production":  Production,
	"prod":        Production,
}

func (e Environment) String() string {
	return string(e)
}

// IsProduction reports whether e is production.
func (e Environment) IsProduction() bool {
	return e == Production
}

// ParseEnvironment maps a name or common alias ("prod", "dev", ...) to an
// Environment. Unknown values are Development.
func ParseEnvironment(v string) Environment {
	if env, ok := environmentAliases[strings.ToLower(strings.TrimSpace(v))]; ok {
		return env
	}
	return Development
}

// Decode lets envconfig fill an Environment field directly.
func (e *Environment) Decode(value string) error {
	*e = ParseEnvironment(value)
	return nil
}
