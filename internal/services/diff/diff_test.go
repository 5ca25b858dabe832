package diff

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/FleetSync/internal/models"
)

func record() *models.CatalogRecord {
	return &models.CatalogRecord{
		ExternalID:     "c1a2b3",
		Slug:           "cutlass-black",
		Name:           "Cutlass Black",
		Manufacturer:   models.Manufacturer{Name: "Drake Interplanetary", Code: "DRAK", Slug: "drake"},
		Classification: "combat",
		Size:           "medium",
		Images:         map[string]string{"thumb": "t.png", "store": "s.png"},
		Raw:            json.RawMessage(`{"id":"c1a2b3","views":10}`),
	}
}

func TestHash_Deterministic(t *testing.T) {
	h1, err := Hash(record())
	require.NoError(t, err)
	h2, err := Hash(record())
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func TestHash_IgnoresNoise(t *testing.T) {
	base, _ := Hash(record())

	r := record()
	r.Name = "  Cutlass Black "
	r.Raw = json.RawMessage(`{"id":"c1a2b3","views":99999}`)
	r.Images = map[string]string{"store": "s.png", "thumb": "t.png", "empty": " "}
	h, _ := Hash(r)
	require.Equal(t, base, h)

	r.Images = nil
	h, _ = Hash(r)
	require.NotEqual(t, base, h)
}

func TestHash_SensitiveToSignificantFields(t *testing.T) {
	base, _ := Hash(record())
	mutations := []func(*models.CatalogRecord){
		func(r *models.CatalogRecord) { r.Name = "Cutlass Blue" },
		func(r *models.CatalogRecord) { r.Slug = "cutlass-blue" },
		func(r *models.CatalogRecord) { r.Manufacturer.Code = "DRK" },
		func(r *models.CatalogRecord) { r.Classification = "transport" },
		func(r *models.CatalogRecord) { r.Size = "large" },
		func(r *models.CatalogRecord) { r.Images["thumb"] = "t2.png" },
	}
	for i, m := range mutations {
		r := record()
		m(r)
		h, _ := Hash(r)
		require.NotEqual(t, base, h, "mutation %d", i)
	}
}

func TestClassify_New(t *testing.T) {
	res := Classify(nil, record())
	require.Equal(t, KindNew, res.Kind)
	require.NoError(t, res.Err)
	require.NotEmpty(t, res.Doc.ID)
	require.Equal(t, "c1a2b3", res.Doc.ExternalID)
	require.EqualValues(t, 1, res.Doc.SyncVersion)
	require.JSONEq(t, `{"id":"c1a2b3","views":10}`, string(res.Doc.Raw))
}

func TestClassify_Unchanged(t *testing.T) {
	h, _ := Hash(record())
	existing := &models.Ship{ID: "id-1", ExternalID: "c1a2b3", ContentHash: h, SyncVersion: 4}

	res := Classify(existing, record())
	require.Equal(t, KindUnchanged, res.Kind)
	require.Nil(t, res.Doc)
}

func TestClassify_Updated(t *testing.T) {
	created := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	existing := &models.Ship{ID: "id-1", ExternalID: "c1a2b3", ContentHash: "old", SyncVersion: 4, CreatedAt: created}

	res := Classify(existing, record())
	require.Equal(t, KindUpdated, res.Kind)
	require.Equal(t, "id-1", res.Doc.ID)
	require.EqualValues(t, 5, res.Doc.SyncVersion)
	require.Equal(t, created, res.Doc.CreatedAt)
}

func TestClassify_Skipped(t *testing.T) {
	r := record()
	r.ExternalID = ""
	res := Classify(nil, r)
	require.Equal(t, KindSkipped, res.Kind)
	require.Nil(t, res.Doc)

	var vErr *models.ValidationError
	require.ErrorAs(t, res.Err, &vErr)
	require.Equal(t, "externalId", vErr.Field)

	r = record()
	r.Name = ""
	require.Equal(t, KindSkipped, Classify(nil, r).Kind)
}

func TestClassify_SkippedWhitespaceOnly(t *testing.T) {
	r := record()
	r.ExternalID = "   "
	res := Classify(nil, r)
	require.Equal(t, KindSkipped, res.Kind)
	require.Nil(t, res.Doc)
	var vErr *models.ValidationError
	require.ErrorAs(t, res.Err, &vErr)
	require.Equal(t, "externalId", vErr.Field)

	r = record()
	r.Name = " \t "
	res = Classify(nil, r)
	require.Equal(t, KindSkipped, res.Kind)
	require.ErrorAs(t, res.Err, &vErr)
	require.Equal(t, "name", vErr.Field)

	// пробелы вокруг валидного id обрезаются, запись не теряется
	r = record()
	r.ExternalID = "  " + r.ExternalID + "  "
	res = Classify(nil, r)
	require.Equal(t, KindNew, res.Kind)
	require.Equal(t, record().ExternalID, res.Doc.ExternalID)
}
