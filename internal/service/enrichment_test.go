package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
)

func TestNormalizeCreditorName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Müller Inkasso GmbH", "mueller"},
		{"  Deutsche   Bank AG ", "deutsche"},
		{"Schuh & Co. KG", "schuh"},
		{"Straßen-Verkehrs e.V.", "strassenverkehrs"},
		{"Telekom", "telekom"},
		{"GmbH", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeCreditorName(tt.in); got != tt.want {
				t.Errorf("NormalizeCreditorName(%q) = %q, хотели %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsMissing(t *testing.T) {
	for _, v := range []string{"", "  ", "N/A", "na", "n.a.", "N.A"} {
		if !IsMissing(v) {
			t.Errorf("IsMissing(%q) = false", v)
		}
	}
	for _, v := range []string{"info@bank.de", "Hauptstr. 1", "nan"} {
		if IsMissing(v) {
			t.Errorf("IsMissing(%q) = true", v)
		}
	}
}

func newTestEnricher(dir *fakeDirectory) *Enricher {
	e := NewEnricher(dir, 16, time.Minute, testLogger())
	e.now = fixedNow
	return e
}

func TestEnrichFillsOnlyMissingFields(t *testing.T) {
	dir := newFakeDirectory(&model.CreditorContact{
		ID:             "dir-1",
		NormalizedName: "mueller",
		Email:          "forderung@mueller.de",
		Address:        "Hauptstr. 1, 10115 Berlin",
	})
	e := newTestEnricher(dir)

	doc := &model.Document{
		ID: "d1",
		ExtractedData: &model.ExtractedData{
			SenderName:    "Müller Inkasso GmbH",
			SenderEmail:   "N/A",
			SenderAddress: "Postfach 9, 80331 München",
		},
	}
	res := e.Enrich(context.Background(), doc)
	if !res.Matched || !res.Filled || res.MissingEmail || res.MissingAddress {
		t.Errorf("результат %+v", res)
	}
	if doc.ExtractedData.SenderEmail != "forderung@mueller.de" {
		t.Errorf("email = %q", doc.ExtractedData.SenderEmail)
	}
	if doc.ExtractedData.SenderAddress != "Postfach 9, 80331 München" {
		t.Errorf("адрес AI перезаписан: %q", doc.ExtractedData.SenderAddress)
	}
}

func TestEnrichCachesLookups(t *testing.T) {
	dir := newFakeDirectory()
	e := newTestEnricher(dir)

	for range 3 {
		cr := model.Creditor{SenderName: "Nord Inkasso"}
		res := e.EnrichCreditor(context.Background(), &cr)
		if res.Matched || !res.MissingEmail || !res.MissingAddress {
			t.Fatalf("результат %+v", res)
		}
	}
	if n := dir.lookupCount(); n != 1 {
		t.Errorf("обращений к справочнику %d, хотели 1 (кэш «не найдено»)", n)
	}

	// Новая запись сбрасывает кэш
	if _, err := e.UpsertContact(context.Background(), "Nord Inkasso GmbH", "info@nord.de", ""); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	cr := model.Creditor{SenderName: "Nord Inkasso"}
	res := e.EnrichCreditor(context.Background(), &cr)
	if !res.Filled || cr.Email != "info@nord.de" {
		t.Errorf("после добавления: %+v, email=%q", res, cr.Email)
	}
	if cr.ContactSource != model.ContactSourceDirectory {
		t.Errorf("contact_source = %q, хотели creditor_directory", cr.ContactSource)
	}
	if n := dir.lookupCount(); n != 2 {
		t.Errorf("обращений к справочнику %d, хотели 2", n)
	}
}

func TestEnrichDirectoryErrorKeepsFields(t *testing.T) {
	dir := newFakeDirectory()
	dir.err = errors.New("connection reset")
	e := newTestEnricher(dir)

	cr := model.Creditor{SenderName: "Süd Bank", Address: "Weg 1"}
	res := e.EnrichCreditor(context.Background(), &cr)
	if res.Matched || !res.MissingEmail || res.MissingAddress {
		t.Errorf("результат %+v", res)
	}
	if cr.ContactSource != model.ContactSourceAI {
		t.Errorf("contact_source = %q, хотели ai", cr.ContactSource)
	}
}

func TestUpsertContactValidation(t *testing.T) {
	e := newTestEnricher(newFakeDirectory())

	if _, err := e.UpsertContact(context.Background(), "GmbH", "a@b.de", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("пустое наименование: %v, хотели ErrValidation", err)
	}
	if _, err := e.UpsertContact(context.Background(), "Muster", "n/a", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("без контактов: %v, хотели ErrValidation", err)
	}
}
