package storage

import (
	"testing"
	"time"

	"rentpipeline/models"
)

func TestSignificantFieldsChangedDetectsPriceChange(t *testing.T) {
	existing := &models.Property{PricePerWeek: 500}
	incoming := &models.Property{PricePerWeek: 550}
	if !significantFieldsChanged(existing, incoming) {
		t.Error("expected price change to be significant")
	}
}

func TestSignificantFieldsChangedIgnoresIdenticalRows(t *testing.T) {
	now := time.Now()
	existing := &models.Property{PricePerWeek: 500, DescriptionEN: "nice", AvailableDate: &now}
	incoming := &models.Property{PricePerWeek: 500, DescriptionEN: "nice", AvailableDate: &now}
	if significantFieldsChanged(existing, incoming) {
		t.Error("expected identical rows to be a no-op")
	}
}

func TestSignificantFieldsChangedDetectsAvailableDateAppearing(t *testing.T) {
	now := time.Now()
	existing := &models.Property{}
	incoming := &models.Property{AvailableDate: &now}
	if !significantFieldsChanged(existing, incoming) {
		t.Error("expected available_date appearing to be significant")
	}
}
