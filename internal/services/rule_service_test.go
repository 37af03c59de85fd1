package services

import (
	"context"
	"testing"

	"expedify/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func hoursPtr(v int) *int { return &v }

func newRuleTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:rule_" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err, "open sqlite")
	sqlDB, err := db.DB()
	require.NoError(t, err, "db handle")
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.AutomationRule{}), "auto migrate")
	return db
}

func TestRuleService_CreateDefaults(t *testing.T) {
	db := newRuleTestDB(t)
	svc := NewRuleService(db, quietLogger())

	rule, err := svc.CreateRule(context.Background(), &RuleRequest{
		CompanyID:    1,
		Name:         "30-day reminder",
		TriggerType:  models.TriggerDaysOverdue,
		TriggerValue: 30,
		ActionType:   models.ActionGenerateReminder,
		Conditions:   &models.RuleConditions{MinAmount: 500, ExcludeDisputed: true},
		ActionConfig: &models.ActionConfig{Tone: "friendly"},
	})
	require.NoError(t, err)

	assert.True(t, rule.Enabled, "enabled should default to true")
	assert.Equal(t, 72, rule.CooldownHours, "cooldown should default to 72h")

	conds, err := rule.ParseConditions()
	require.NoError(t, err)
	assert.Equal(t, float64(500), conds.MinAmount)
	assert.True(t, conds.ExcludeDisputed)

	cfg, err := rule.ParseActionConfig()
	require.NoError(t, err)
	assert.Equal(t, "friendly", cfg.Tone)
}

func TestRuleService_ZeroCooldownDisablesWindow(t *testing.T) {
	db := newRuleTestDB(t)
	svc := NewRuleService(db, quietLogger())
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, &RuleRequest{
		CompanyID:     1,
		Name:          "no cooldown",
		TriggerType:   models.TriggerDaysOverdue,
		TriggerValue:  30,
		ActionType:    models.ActionNotify,
		CooldownHours: hoursPtr(0),
	})
	require.NoError(t, err)
	assert.Zero(t, rule.CooldownHours, "explicit zero must not be coerced to the default")

	var reloaded models.AutomationRule
	require.NoError(t, db.First(&reloaded, rule.ID).Error)
	assert.Zero(t, reloaded.CooldownHours, "explicit zero must round-trip through the store")

	// An update that leaves the field unset keeps the stored value.
	updated, err := svc.UpdateRule(ctx, rule.ID, &RuleRequest{
		CompanyID:    1,
		Name:         "no cooldown",
		TriggerType:  models.TriggerDaysOverdue,
		TriggerValue: 45,
		ActionType:   models.ActionNotify,
	})
	require.NoError(t, err)
	assert.Zero(t, updated.CooldownHours)
}

func TestRuleService_Validation(t *testing.T) {
	db := newRuleTestDB(t)
	svc := NewRuleService(db, quietLogger())
	ctx := context.Background()

	cases := []struct {
		name string
		req  RuleRequest
	}{
		{"bad trigger", RuleRequest{CompanyID: 1, Name: "r", TriggerType: "full_moon", ActionType: models.ActionNotify}},
		{"bad action", RuleRequest{CompanyID: 1, Name: "r", TriggerType: models.TriggerDaysOverdue, ActionType: "send_pigeon"}},
		{"negative trigger value", RuleRequest{CompanyID: 1, Name: "r", TriggerType: models.TriggerDaysOverdue, TriggerValue: -1, ActionType: models.ActionNotify}},
		{"negative cooldown", RuleRequest{CompanyID: 1, Name: "r", TriggerType: models.TriggerDaysOverdue, ActionType: models.ActionNotify, CooldownHours: hoursPtr(-5)}},
		{"negative cap", RuleRequest{CompanyID: 1, Name: "r", TriggerType: models.TriggerDaysOverdue, ActionType: models.ActionNotify, MaxExecutions: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateRule(ctx, &tc.req)
			assert.Error(t, err)
		})
	}
}

func TestRuleService_UpdateReplacesConfig(t *testing.T) {
	db := newRuleTestDB(t)
	svc := NewRuleService(db, quietLogger())
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, &RuleRequest{
		CompanyID:    1,
		Name:         "before",
		TriggerType:  models.TriggerDaysOverdue,
		TriggerValue: 30,
		ActionType:   models.ActionNotify,
		Conditions:   &models.RuleConditions{MinAmount: 500},
	})
	require.NoError(t, err)

	disabled := false
	updated, err := svc.UpdateRule(ctx, rule.ID, &RuleRequest{
		CompanyID:    1,
		Name:         "after",
		Enabled:      &disabled,
		TriggerType:  models.TriggerPromiseBroken,
		ActionType:   models.ActionEscalate,
		ActionConfig: &models.ActionConfig{EscalateTo: "ar lead"},
	})
	require.NoError(t, err)

	assert.Equal(t, "after", updated.Name)
	assert.False(t, updated.Enabled)
	assert.Equal(t, models.TriggerPromiseBroken, updated.TriggerType)

	// Omitted conditions clear the old ones; this is a full replace.
	conds, err := updated.ParseConditions()
	require.NoError(t, err)
	assert.Zero(t, conds.MinAmount)

	cfg, err := updated.ParseActionConfig()
	require.NoError(t, err)
	assert.Equal(t, "ar lead", cfg.EscalateTo)
}

func TestRuleService_UpdateUnknownRule(t *testing.T) {
	db := newRuleTestDB(t)
	svc := NewRuleService(db, quietLogger())

	_, err := svc.UpdateRule(context.Background(), 404, &RuleRequest{
		CompanyID:   1,
		Name:        "r",
		TriggerType: models.TriggerDaysOverdue,
		ActionType:  models.ActionNotify,
	})
	assert.Error(t, err)
}

func TestRuleService_ListEvaluationOrder(t *testing.T) {
	db := newRuleTestDB(t)
	svc := NewRuleService(db, quietLogger())
	ctx := context.Background()

	for _, r := range []struct {
		name     string
		priority int
	}{
		{"late", 5},
		{"early", 1},
		{"middle", 3},
	} {
		_, err := svc.CreateRule(ctx, &RuleRequest{
			CompanyID:   1,
			Name:        r.name,
			Priority:    r.priority,
			TriggerType: models.TriggerDaysOverdue,
			ActionType:  models.ActionNotify,
		})
		require.NoError(t, err, "create %s", r.name)
	}

	rules, err := svc.ListRules(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "early", rules[0].Name)
	assert.Equal(t, "middle", rules[1].Name)
	assert.Equal(t, "late", rules[2].Name)
}

func TestRuleService_Delete(t *testing.T) {
	db := newRuleTestDB(t)
	svc := NewRuleService(db, quietLogger())
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, &RuleRequest{
		CompanyID:   1,
		Name:        "r",
		TriggerType: models.TriggerDaysOverdue,
		ActionType:  models.ActionNotify,
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRule(ctx, rule.ID))
	assert.ErrorIs(t, svc.DeleteRule(ctx, rule.ID), ErrRuleNotFound, "deleting twice should report not found")
}
