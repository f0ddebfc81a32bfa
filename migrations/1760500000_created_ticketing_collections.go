package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"

	"ticketing/internal/schema"
)

func init() {
	m.Register(func(app core.App) error {
		return schema.Apply(app)
	}, func(app core.App) error {
		return schema.Revert(app)
	})
}
