package cofarsur

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/daterange"
	"github.com/pharmalink/provider-sync/internal/tree"
	"github.com/pharmalink/provider-sync/internal/upstream"
)

func newGateway(t *testing.T, h http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := upstream.NewClient(upstream.ClientOptions{Provider: Name, BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	return New(c, "api/exportacion")
}

var (
	cred = credential.Tuple{Provider: Name, Branch: "SA1", Fields: map[string]string{
		credential.Username: "farm", credential.Password: "pw", credential.StaticToken: "tk",
	}}
	window = upstream.ListParams{Range: daterange.Range{
		From: time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}}
)

func TestFetchList(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/exportacion", r.URL.Path)
		var req map[string]map[string]string
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &req))
		assert.Equal(t, map[string]string{
			"usuario": "farm", "clave": "pw", "token": "tk",
			"fecha_desde": "26/02/2026", "fecha_hasta": "02/03/2026",
		}, req["DatosExportacionComprobantes"])
		_, _ = w.Write([]byte(`{"RespuestaExportacionComprobantes":{"Estado":true,"Cabecera":{"nro":"1"},"detalle":[{"a":1},{"a":2}]}}`))
	})

	n, err := g.FetchList(context.Background(), window, cred, "")
	require.NoError(t, err)
	assert.Equal(t, true, tree.Get(n, "estado"))
	assert.Len(t, tree.List(tree.Get(n, SectionHeaders)), 1)
	assert.Len(t, tree.List(tree.Get(n, SectionItems)), 2)
	assert.Empty(t, tree.Get(n, SectionTaxes))
}

func TestFetchList_HTTPError(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"mensaje":"Credenciales incompletas"}`))
	})

	_, err := g.FetchList(context.Background(), window, cred, "")
	var ue *upstream.Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusForbidden, ue.Status)
	assert.Equal(t, "Credenciales incompletas", ue.Message)
}

func TestUnwrap(t *testing.T) {
	t.Run("failure with error text", func(t *testing.T) {
		_, err := Unwrap(map[string]any{"respuesta": map[string]any{"estado": false, "error": "Token invalido"}})
		var ue *upstream.Error
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "Token invalido", ue.Message)
	})
	t.Run("empty with notice", func(t *testing.T) {
		n, err := Unwrap(map[string]any{"estado": false, "mensaje": "Sin comprobantes"})
		require.NoError(t, err)
		assert.Equal(t, "Sin comprobantes", tree.String(tree.Get(n, "mensaje")))
		assert.Empty(t, tree.Get(n, SectionHeaders))
	})
	t.Run("not an object", func(t *testing.T) {
		_, err := Unwrap("oops")
		assert.Error(t, err)
	})
}
