package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpecs() map[string]Spec {
	return map[string]Spec{
		"greenplum_prod": {
			Host:     "c-xxxxx.rw.mdb.yandexcloud.net",
			Port:     6432,
			Database: "postgres",
			Login:    "admin",
			Secret:   "s3cret pass",
			Options:  map[string]string{"sslmode": "require", "connect_timeout": "5"},
		},
	}
}

func TestResolve(t *testing.T) {
	r := NewResolver(testSpecs())

	spec, err := r.Resolve("greenplum_prod")
	require.NoError(t, err)

	assert.Equal(t, "greenplum_prod", spec.Identifier)
	assert.Equal(t, 6432, spec.Port)
	assert.Equal(t, "require", spec.Options["sslmode"])
}

func TestResolve_UnknownConnection(t *testing.T) {
	r := NewResolver(testSpecs())

	spec, err := r.Resolve("greenplum_default")

	assert.Nil(t, spec)
	assert.True(t, errors.Is(err, ErrUnknownConnection))
	assert.Contains(t, err.Error(), "greenplum_default")
}

func TestResolve_ReturnsCopy(t *testing.T) {
	r := NewResolver(testSpecs())

	first, err := r.Resolve("greenplum_prod")
	require.NoError(t, err)
	first.Host = "mutated"
	first.Options["sslmode"] = "disable"

	second, err := r.Resolve("greenplum_prod")
	require.NoError(t, err)
	assert.Equal(t, "c-xxxxx.rw.mdb.yandexcloud.net", second.Host)
	assert.Equal(t, "require", second.Options["sslmode"])
}

func TestNewResolver_CopiesInput(t *testing.T) {
	specs := testSpecs()
	r := NewResolver(specs)

	specs["greenplum_prod"].Options["sslmode"] = "disable"

	spec, err := r.Resolve("greenplum_prod")
	require.NoError(t, err)
	assert.Equal(t, "require", spec.Options["sslmode"])
}

func TestIdentifiers(t *testing.T) {
	r := NewResolver(map[string]Spec{"b": {}, "a": {}})
	assert.Equal(t, []string{"a", "b"}, r.Identifiers())
}

func TestDSN(t *testing.T) {
	r := NewResolver(testSpecs())
	spec, err := r.Resolve("greenplum_prod")
	require.NoError(t, err)

	assert.Equal(t,
		"host=c-xxxxx.rw.mdb.yandexcloud.net port=6432 dbname=postgres user=admin password='s3cret pass' connect_timeout=5 sslmode=require",
		spec.DSN())
}

func TestDSN_EscapesQuotes(t *testing.T) {
	spec := &Spec{Host: "localhost", Secret: `it's\x`}
	assert.Equal(t, `host=localhost password='it\'s\\x'`, spec.DSN())
}

func TestCredentialsAreRedacted(t *testing.T) {
	spec := &Spec{Host: "db", Port: 5432, Login: "admin", Secret: "hunter2"}

	assert.NotContains(t, spec.String(), "hunter2")
	assert.Contains(t, spec.String(), "password=****")
	assert.NotContains(t, fmt.Sprintf("%v", spec.Secret), "hunter2")
	assert.NotContains(t, fmt.Sprintf("%#v", spec.Secret), "hunter2")

	data, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.Contains(t, spec.DSN(), "password=hunter2")
}

func TestAddress(t *testing.T) {
	spec := &Spec{Host: "db", Port: 6432}
	assert.Equal(t, "db:6432", spec.Address())
}
