package config

import (
	"strings"

	"github.com/mmdatafocus/kitchen_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tenantColumn = "business_id"

// TenantGuardPlugin adds a business_id filter to reads, updates and deletes on
// tenant-owned tables when the statement context carries a business id and the
// query did not filter on it already. Raw SQL is not rewritten.
type TenantGuardPlugin struct{}

func NewTenantGuardPlugin() *TenantGuardPlugin { return &TenantGuardPlugin{} }

func (p *TenantGuardPlugin) Name() string { return "tenant_guard" }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	registrations := []struct {
		name     string
		register func(string, func(*gorm.DB)) error
	}{
		{"tenant_guard:query", cb.Query().Before("gorm:query").Register},
		{"tenant_guard:row", cb.Row().Before("gorm:row").Register},
		{"tenant_guard:update", cb.Update().Before("gorm:update").Register},
		{"tenant_guard:delete", cb.Delete().Before("gorm:delete").Register},
	}
	for _, r := range registrations {
		if err := r.register(r.name, scopeToTenant); err != nil {
			return err
		}
	}
	return nil
}

func scopeToTenant(db *gorm.DB) {
	if db == nil || db.Statement == nil || db.Statement.Context == nil || db.Statement.Schema == nil {
		return
	}
	ctx := db.Statement.Context
	if skip, ok := appctx.GetBool(ctx, appctx.ContextKeySkipTenantScope); ok && skip {
		return
	}
	businessId, ok := appctx.GetString(ctx, appctx.ContextKeyBusinessId)
	if !ok || businessId == "" {
		return
	}
	if db.Statement.Schema.LookUpField(tenantColumn) == nil {
		return
	}
	if where, ok := db.Statement.Clauses["WHERE"].Expression.(clause.Where); ok && mentionsTenant(where.Exprs) {
		return
	}
	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: db.Statement.Table, Name: tenantColumn}, Value: businessId},
	}})
}

func mentionsTenant(exprs []clause.Expression) bool {
	for _, e := range exprs {
		switch v := e.(type) {
		case clause.Eq:
			if isTenantColumn(v.Column) {
				return true
			}
		case clause.IN:
			if isTenantColumn(v.Column) {
				return true
			}
		case clause.AndConditions:
			if mentionsTenant(v.Exprs) {
				return true
			}
		case clause.OrConditions:
			if mentionsTenant(v.Exprs) {
				return true
			}
		case clause.Expr:
			if strings.Contains(strings.ToLower(v.SQL), tenantColumn) {
				return true
			}
		case clause.NamedExpr:
			if strings.Contains(strings.ToLower(v.SQL), tenantColumn) {
				return true
			}
		}
	}
	return false
}

func isTenantColumn(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, tenantColumn)
	case clause.Column:
		return strings.EqualFold(c.Name, tenantColumn)
	default:
		return false
	}
}
