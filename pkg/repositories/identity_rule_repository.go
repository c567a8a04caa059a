package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
	"github.com/ekaya-inc/golden-engine/pkg/database"
	"github.com/ekaya-inc/golden-engine/pkg/models"
)

// IdentityRuleRepository is the rule store.
type IdentityRuleRepository interface {
	// ListActive returns active rules for (objectType, sourceSystem) ordered by rule_id ascending.
	ListActive(ctx context.Context, objectType, sourceSystem string) ([]*models.IdentityRule, error)

	// Create inserts a new rule. An existing rule_id yields ErrConflict.
	Create(ctx context.Context, rule *models.IdentityRule) error

	// Upsert creates the rule or replaces the rule with the same rule_id.
	Upsert(ctx context.Context, rule *models.IdentityRule) error

	Get(ctx context.Context, ruleID string) (*models.IdentityRule, error)

	// List returns all rules ordered by rule_id; inactive ones only when includeInactive is set.
	List(ctx context.Context, includeInactive bool) ([]*models.IdentityRule, error)

	SetActive(ctx context.Context, ruleID string, active bool) error
}

type identityRuleRepository struct {
	db *database.DB
}

// NewIdentityRuleRepository creates an identity rule repository.
func NewIdentityRuleRepository(db *database.DB) IdentityRuleRepository {
	return &identityRuleRepository{db: db}
}

var _ IdentityRuleRepository = (*identityRuleRepository)(nil)

const identityRuleColumns = `rule_id, rule_name, object_type, source_system, key_fields,
	normalization_rules, active, created_at, updated_at`

func scanIdentityRule(row pgx.Row) (*models.IdentityRule, error) {
	var r models.IdentityRule
	if err := row.Scan(&r.RuleID, &r.RuleName, &r.ObjectType, &r.SourceSystem, &r.KeyFields,
		&r.NormalizationRules, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *identityRuleRepository) ListActive(ctx context.Context, objectType, sourceSystem string) ([]*models.IdentityRule, error) {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	rows, err := scope.Conn.Query(ctx, `SELECT `+identityRuleColumns+`
		FROM engine_identity_rules
		WHERE object_type = $1 AND source_system = $2 AND active
		ORDER BY rule_id ASC`, objectType, sourceSystem)
	if err != nil {
		return nil, wrapError("list active identity rules", err)
	}
	return collectRules(rows)
}

func (r *identityRuleRepository) List(ctx context.Context, includeInactive bool) ([]*models.IdentityRule, error) {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	rows, err := scope.Conn.Query(ctx, `SELECT `+identityRuleColumns+`
		FROM engine_identity_rules
		WHERE active OR $1
		ORDER BY rule_id ASC`, includeInactive)
	if err != nil {
		return nil, wrapError("list identity rules", err)
	}
	return collectRules(rows)
}

func collectRules(rows pgx.Rows) ([]*models.IdentityRule, error) {
	defer rows.Close()
	var out []*models.IdentityRule
	for rows.Next() {
		rule, err := scanIdentityRule(rows)
		if err != nil {
			return nil, wrapError("scan identity rule", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("iterate identity rules", err)
	}
	return out, nil
}

func (r *identityRuleRepository) Create(ctx context.Context, rule *models.IdentityRule) error {
	return r.write(ctx, "create identity rule", rule, "")
}

func (r *identityRuleRepository) Upsert(ctx context.Context, rule *models.IdentityRule) error {
	return r.write(ctx, "upsert identity rule", rule, `
		ON CONFLICT (rule_id) DO UPDATE SET
			rule_name           = EXCLUDED.rule_name,
			object_type         = EXCLUDED.object_type,
			source_system       = EXCLUDED.source_system,
			key_fields          = EXCLUDED.key_fields,
			normalization_rules = EXCLUDED.normalization_rules,
			active              = EXCLUDED.active,
			updated_at          = NOW()`)
}

// write inserts rule, resolving a rule_id collision with onConflict.
// An empty onConflict surfaces the collision as ErrConflict.
func (r *identityRuleRepository) write(ctx context.Context, op string, rule *models.IdentityRule, onConflict string) error {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	keyFields := rule.KeyFields
	if keyFields == nil {
		keyFields = []string{}
	}
	policies := rule.NormalizationRules
	if policies == nil {
		policies = map[string]string{}
	}

	query := `
		INSERT INTO engine_identity_rules (rule_id, rule_name, object_type, source_system,
			key_fields, normalization_rules, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)` + onConflict + `
		RETURNING created_at, updated_at`

	err = scope.Conn.QueryRow(ctx, query, rule.RuleID, rule.RuleName, rule.ObjectType,
		rule.SourceSystem, keyFields, policies, rule.Active,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return wrapError(op, err)
	}
	return nil
}

func (r *identityRuleRepository) Get(ctx context.Context, ruleID string) (*models.IdentityRule, error) {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	rule, err := scanIdentityRule(scope.Conn.QueryRow(ctx,
		`SELECT `+identityRuleColumns+` FROM engine_identity_rules WHERE rule_id = $1`, ruleID))
	if err != nil {
		return nil, wrapError("get identity rule", err)
	}
	return rule, nil
}

func (r *identityRuleRepository) SetActive(ctx context.Context, ruleID string, active bool) error {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	tag, err := scope.Conn.Exec(ctx,
		`UPDATE engine_identity_rules SET active = $2, updated_at = NOW() WHERE rule_id = $1`, ruleID, active)
	if err != nil {
		return wrapError("set identity rule active", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
