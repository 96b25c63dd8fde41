package dirbacking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShortenPassesThroughLegalName(t *testing.T) {
	names := []string{"FOO.TXT"}
	got, ok := Shorten("FOO.TXT", names)
	require.True(t, ok)
	require.Equal(t, "FOO.TXT", got)
}

func TestShortenUppercasesAndStripsPunctuation(t *testing.T) {
	names := []string{"my_file.txt"}
	got, ok := Shorten("my_file.txt", names)
	require.True(t, ok)
	require.Equal(t, "MYFILE.TXT", got)
}

func TestShortenTruncatesLongNames(t *testing.T) {
	names := []string{"verylongfilename.text"}
	got, ok := Shorten("verylongfilename.text", names)
	require.True(t, ok)
	require.Equal(t, "VERYLO~1.TEXT"[:8], got[:8])
	require.Contains(t, got, "~1")
}

func TestShortenResolvesCollisionsWithHexTail(t *testing.T) {
	names := []string{"longfilenameone.txt", "longfilenametwo.txt"}
	first, ok1 := Shorten(names[0], names)
	second, ok2 := Shorten(names[1], names)
	require.True(t, ok1)
	require.True(t, ok2)
	require.NotEqual(t, first, second)
}

func TestShortenMutatesNameList(t *testing.T) {
	names := []string{"my_file.txt"}
	short, ok := Shorten("my_file.txt", names)
	require.True(t, ok)
	require.Equal(t, short, names[0])
}

func TestShortenReportsFailureOnSixteenthCollision(t *testing.T) {
	names := []string{"longfilenamebase.txt"}
	for i := 0; i < 15; i++ {
		dup := "longfilenamebase.txt"
		short, _ := Shorten(dup, names)
		names = append(names, short)
	}
	_, ok := Shorten("longfilenamebase.txt", names)
	require.False(t, ok)
}
