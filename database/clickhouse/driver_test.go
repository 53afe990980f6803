package clickhouse

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jing2uo/datascan/model"
)

func TestNewClickHouseDriver(t *testing.T) {
	u, err := url.Parse("clickhouse://reader:pw@ch.local?http_port=18123&dial_timeout=5s")
	require.NoError(t, err)

	d, err := NewClickHouseDriver(u)
	require.NoError(t, err)
	assert.Equal(t, "http://ch.local:18123", d.http.base)
	assert.Equal(t, "default", d.http.database)
	assert.Equal(t, "reader", d.http.user)
	assert.Equal(t, "pw", d.http.password)
	assert.Equal(t, "clickhouse://reader:pw@ch.local:9000/default?dial_timeout=5s", d.dsn)

	u, _ = url.Parse("clickhouse://ch.local:9440/quotes")
	d, err = NewClickHouseDriver(u)
	require.NoError(t, err)
	assert.Equal(t, "clickhouse://default@ch.local:9440/quotes", d.dsn)
	assert.Equal(t, "quotes", d.http.database)

	u, _ = url.Parse("clickhouse:///quotes")
	_, err = NewClickHouseDriver(u)
	assert.Error(t, err)
}

func TestMapTypeAndSortKeys(t *testing.T) {
	d := &ClickHouseDriver{}
	assert.Equal(t, "LowCardinality(String)", d.mapType("code", model.TypeString))
	assert.Equal(t, "String", d.mapType("display_name", model.TypeString))
	assert.Equal(t, "Nullable(Float64)", d.mapType("close", model.TypeFloat64))
	assert.Equal(t, "DateTime64(0, 'UTC')", d.mapType("frame", model.TypeDateTime))

	assert.Equal(t, []string{"code", "frame"}, d.sortKeys(model.TableBarsMin1))
	assert.Equal(t, []string{"code"}, d.sortKeys(model.TableSecurityList))
}

func TestEndpointExec(t *testing.T) {
	var got *http.Request
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		if strings.Contains(r.URL.Query().Get("query"), "broken") {
			http.Error(w, "Code: 62. DB::Exception: Syntax error", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ep := endpoint{base: srv.URL, user: "reader", password: "pw", database: "quotes", client: srv.Client()}
	settings := url.Values{"input_format_csv_empty_as_default": {"1"}}
	require.NoError(t, ep.exec(context.Background(), "INSERT INTO t FORMAT CSVWithNames", settings, strings.NewReader("a,b\n1,2\n")))

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "quotes", got.URL.Query().Get("database"))
	assert.Equal(t, "1", got.URL.Query().Get("input_format_csv_empty_as_default"))
	user, pass, ok := got.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "reader", user)
	assert.Equal(t, "pw", pass)
	assert.Equal(t, "a,b\n1,2\n", body)

	err := ep.exec(context.Background(), "SELECT broken", nil, nil)
	assert.ErrorContains(t, err, "Syntax error")
	assert.Equal(t, http.MethodGet, got.Method)
}
