package database

import (
	"fmt"
	"sync"

	"chat-service/config"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	enforcer     *casbin.Enforcer
	enforcerOnce sync.Once
)

// Casbin returns the process wide enforcer backed by Postgres.
func Casbin() *casbin.Enforcer {
	enforcerOnce.Do(func() {
		e, err := NewEnforcer(Postgres)
		if err != nil {
			panic(err.Error())
		}
		enforcer = e
	})
	return enforcer
}

// NewEnforcer builds an enforcer storing policies in db and seeds the admin
// policy.
func NewEnforcer(db *gorm.DB) (*casbin.Enforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize casbin adapter: %w", err)
	}

	m, err := casbinmodel.NewModelFromString(config.RBACModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	e, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	// Add default policy
	if hasPolicy, _ := e.HasPolicy(RoleAdmin, "/v1/admin/*", "(GET)|(POST)|(PUT)|(DELETE)"); !hasPolicy {
		if _, err := e.AddPolicy(RoleAdmin, "/v1/admin/*", "(GET)|(POST)|(PUT)|(DELETE)"); err != nil {
			return nil, fmt.Errorf("failed to add admin policy: %w", err)
		}
	}

	return e, e.LoadPolicy()
}
