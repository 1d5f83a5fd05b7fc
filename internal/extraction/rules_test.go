package extraction

import (
	"testing"

	"github.com/PageSmith/PageSmith/internal/models"
)

func TestApplyGeneralRules(t *testing.T) {
	var update models.PartialUpdate
	applyGeneralRules("goal: sell handmade candles\naudience: eco-conscious shoppers\nstyle: warm and rustic", &update)

	if got := update.GeneralInfo[models.FieldGoal]; got != "sell handmade candles" {
		t.Errorf("goal = %q", got)
	}
	if got := update.GeneralInfo[models.FieldAudience]; got != "eco-conscious shoppers" {
		t.Errorf("audience = %q", got)
	}
	if got := update.GeneralInfo[models.FieldStyle]; got != "warm and rustic" {
		t.Errorf("style = %q", got)
	}
}

func TestApplyGeneralRulesNotificationChannel(t *testing.T) {
	var update models.PartialUpdate
	applyGeneralRules("send leads to shop@example.com please", &update)
	if update.GeneralInfo[models.FieldNotificationChannel] != "email" {
		t.Errorf("channel = %q", update.GeneralInfo[models.FieldNotificationChannel])
	}
	if update.GeneralInfo[models.FieldNotificationTarget] != "shop@example.com" {
		t.Errorf("target = %q", update.GeneralInfo[models.FieldNotificationTarget])
	}

	update = models.PartialUpdate{}
	applyGeneralRules("reach me at +14165551234", &update)
	if update.GeneralInfo[models.FieldNotificationChannel] != "phone" {
		t.Errorf("channel = %q", update.GeneralInfo[models.FieldNotificationChannel])
	}
	if update.GeneralInfo[models.FieldNotificationTarget] != "+14165551234" {
		t.Errorf("target = %q", update.GeneralInfo[models.FieldNotificationTarget])
	}
}

func TestApplyItemRulesPrices(t *testing.T) {
	var update models.PartialUpdate
	applyItemRules("name: Beeswax Candle\nwas $20, now $12.50", &update)

	if got := update.ItemFields[models.ItemFieldName]; got != "Beeswax Candle" {
		t.Errorf("name = %q", got)
	}
	if got := update.ItemFields[models.ItemFieldPriceBefore]; got != "$20" {
		t.Errorf("priceBefore = %q", got)
	}
	if got := update.ItemFields[models.ItemFieldPriceAfter]; got != "$12.50" {
		t.Errorf("priceAfter = %q", got)
	}
}

func TestApplyItemRulesItemCount(t *testing.T) {
	var update models.PartialUpdate
	applyItemRules("I want to list 4 products on the page", &update)
	if update.ItemCount != 4 {
		t.Errorf("itemCount = %d, want 4", update.ItemCount)
	}
}

func TestApplyItemRulesFeatures(t *testing.T) {
	var update models.PartialUpdate
	applyItemRules("description: hand-poured candle\n- long burn time\n- 100% natural wax", &update)

	if got := update.ItemFields[models.ItemFieldDescription]; got != "hand-poured candle" {
		t.Errorf("description = %q", got)
	}
	if got := update.ItemFields[models.ItemFieldFeature]; got != "long burn time\n100% natural wax" {
		t.Errorf("features = %q", got)
	}
}

func TestCleanValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  warm and rustic.  ", "warm and rustic"},
		{"first line\nsecond line", "first line"},
		{`"quoted"`, "quoted"},
	}
	for _, tt := range tests {
		if got := cleanValue(tt.in); got != tt.want {
			t.Errorf("cleanValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizePrice(t *testing.T) {
	if got := normalizePrice("$ 12.50"); got != "$12.50" {
		t.Errorf("normalizePrice = %q", got)
	}
}
