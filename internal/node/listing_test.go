package node

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePage(t *testing.T) {
	body := `<directory>
		<entry name="reports" type="directory"/>
		<entry name="2024/q1.ccf" type="object"/>
		<nextMarker>2024/q1.ccf</nextMarker>
	</directory>`

	page, err := decodePage(strings.NewReader(body))
	require.NoError(t, err)

	require.Len(t, page.Entries, 2)
	assert.Equal(t, Entry{Name: "reports", Kind: KindDirectory}, page.Entries[0])
	assert.Equal(t, Entry{Name: "2024/q1.ccf", Kind: KindObject}, page.Entries[1])
	assert.Equal(t, "2024/q1.ccf", page.NextMarker)
}

func TestDecodePage_Empty(t *testing.T) {
	page, err := decodePage(strings.NewReader(`<directory></directory>`))
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.Empty(t, page.NextMarker)
}

func TestDecodePage_NoCursor(t *testing.T) {
	page, err := decodePage(strings.NewReader(`<directory><entry name="a.ccf" type="object"/></directory>`))
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Empty(t, page.NextMarker)
}

func TestDecodePage_Malformed(t *testing.T) {
	_, err := decodePage(strings.NewReader(`<directory><entry`))
	assert.Error(t, err)
}

func TestDecodePage_UnknownEntryType(t *testing.T) {
	_, err := decodePage(strings.NewReader(`<directory><entry name="x" type="symlink"/></directory>`))
	assert.Error(t, err)
}

func TestDecodePage_EmptyName(t *testing.T) {
	_, err := decodePage(strings.NewReader(`<directory><entry name="" type="object"/></directory>`))
	assert.Error(t, err)
}
