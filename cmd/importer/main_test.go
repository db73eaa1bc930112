package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hvacdash/hvacdash/pkg/config"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path, format, want string
		wantErr            bool
	}{
		{"dump.csv", "", "csv", false},
		{"dump.JSON", "", "json", false},
		{"-", "", "csv", false},
		{"dump.txt", "JSON", "json", false},
		{"dump.csv", "xml", "", true},
	}
	for _, tt := range tests {
		got, err := detectFormat(tt.path, tt.format)
		if tt.wantErr {
			assert.Error(t, err, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestRun_ImportsCSVIntoConfiguredStore(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HVACDASH_SERVER_DATA_DIR", dir)
	cfg, err := config.Load("")
	require.NoError(t, err)

	path := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"logtime,device,duration,temperature,status\n"+
			"100,attic,60,30.5,\n"+
			"160,attic,1,,\"{\"\"Fan\"\":\"\"ON\"\"}\"\n"+
			"bad,attic,1,1.0,\n"), 0o644))

	log, _ := test.NewNullLogger()
	result, err := run(cfg, path, "", log)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordsImported)
	assert.Equal(t, 1, result.ErrorCount)

	_, err = os.Stat(filepath.Join(dir, config.DefaultDBFile))
	assert.NoError(t, err)
}

func TestRun_MissingFile(t *testing.T) {
	t.Setenv("HVACDASH_SERVER_DATA_DIR", t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	_, err = run(cfg, filepath.Join(t.TempDir(), "nope.csv"), "", log)
	assert.Error(t, err)
}
