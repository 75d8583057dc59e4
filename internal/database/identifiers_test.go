package database

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDatabases_DropsSystemSchemas(t *testing.T) {
	raw := []string{"information_schema", "shop", "mysql", "performance_schema", "sys", "billing", "MySQL"}

	valid, rejected := DecodeDatabases(raw, nil)

	assert.Equal(t, []string{"billing", "shop"}, valid)
	assert.Empty(t, rejected)
	for _, s := range SystemSchemas {
		assert.NotContains(t, valid, s)
	}
}

func TestDecodeDatabases_ExcludesAndRejects(t *testing.T) {
	raw := []string{"shop", "scratch", "bad\x00name", "-oops", " spaced", "shop", "", "tab\tname"}

	valid, rejected := DecodeDatabases(raw, []string{"scratch"})

	assert.Equal(t, []string{"shop"}, valid)
	require.Len(t, rejected, 5)
	names := make([]string, 0, len(rejected))
	for _, r := range rejected {
		names = append(names, r.Name)
		assert.NotEmpty(t, r.Reason)
	}
	assert.ElementsMatch(t, []string{"bad\x00name", "-oops", " spaced", "", "tab\tname"}, names)
}

func TestDecodeDatabases_KeepsPunctuatedNames(t *testing.T) {
	raw := []string{"mysql", "app.v2", "eu/sales", `back\slash`, "shop"}

	valid, rejected := DecodeDatabases(raw, nil)

	assert.Empty(t, rejected)
	assert.Equal(t, []string{"app.v2", `back\slash`, "eu/sales", "shop"}, valid)

	files := DumpFileNames(valid)
	assert.Equal(t, "appv2.sql", files["app.v2"])
	assert.Equal(t, "eusales.sql", files["eu/sales"])
	assert.Equal(t, "backslash.sql", files[`back\slash`])
}

func TestDumpFileNames_StripPunctuation(t *testing.T) {
	dbs := []string{"shop_db", "crm$prod", "wp-blog", "plain", "ünïcode-db"}

	files := DumpFileNames(dbs)

	require.Len(t, files, len(dbs))
	assert.Equal(t, "shopdb.sql", files["shop_db"])
	assert.Equal(t, "crmprod.sql", files["crm$prod"])
	assert.Equal(t, "wpblog.sql", files["wp-blog"])
	assert.Equal(t, "plain.sql", files["plain"])
	for db, f := range files {
		stem := strings.TrimSuffix(f, ".sql")
		for _, r := range stem {
			assert.False(t, unicode.IsPunct(r) || unicode.IsSymbol(r), "%q -> %q keeps punctuation", db, f)
		}
	}
}

func TestDumpFileNames_Collisions(t *testing.T) {
	files := DumpFileNames([]string{"shopdb", "shop_db", "shop-db", "$$"})

	seen := map[string]bool{}
	for _, f := range files {
		assert.False(t, seen[f], "duplicate filename %s", f)
		seen[f] = true
	}
	assert.Equal(t, "db.sql", files["$$"])
}

func TestValidateBinlogName(t *testing.T) {
	assert.NoError(t, ValidateBinlogName("mysql-bin.000001"))
	assert.NoError(t, ValidateBinlogName("binlog.1234567"))
	assert.Error(t, ValidateBinlogName("mysql-bin.index"))
	assert.Error(t, ValidateBinlogName("../mysql-bin.000001"))
	assert.Error(t, ValidateBinlogName("mysql-bin.000001; rm -rf /"))
}

func TestIsBinlogFile(t *testing.T) {
	bases := BinlogBases([]string{"mysql-bin.000001"})

	assert.True(t, IsBinlogFile("mysql-bin.000007", bases))
	assert.False(t, IsBinlogFile("relay-bin.000007", bases))
	assert.False(t, IsBinlogFile("mysql-bin.000001mysql-bin.000001", bases))
}
