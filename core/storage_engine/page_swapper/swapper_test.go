package pageswapper

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/require"
)

const testPageSize = 512

func filledPage(size int, b byte) []byte {
	return bytes.Repeat([]byte{b}, size)
}

// exerciseSwapper runs the behaviour every PageSwapper must share.
func exerciseSwapper(t *testing.T, s PageSwapper) {
	t.Helper()
	pageSize := s.PageSize()

	last, err := s.LastPageID()
	require.NoError(t, err)
	require.Equal(t, int64(-1), last, "new file must be empty")

	n, err := s.Write(2, filledPage(pageSize, 0xAB))
	require.NoError(t, err)
	require.Equal(t, pageSize, n)

	last, err = s.LastPageID()
	require.NoError(t, err)
	require.Equal(t, int64(2), last)

	buf := filledPage(pageSize, 0xFF)
	_, err = s.Read(2, buf)
	require.NoError(t, err)
	require.Equal(t, filledPage(pageSize, 0xAB), buf)

	// A hole before the written page reads as zeros.
	_, err = s.Read(0, buf)
	require.NoError(t, err)
	require.Equal(t, make([]byte, pageSize), buf)

	// Past the end of the file reads as zeros too.
	buf = filledPage(pageSize, 0xFF)
	n, err = s.Read(10, buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, make([]byte, pageSize), buf)

	_, err = s.Read(-1, buf)
	require.ErrorIs(t, err, ErrNegativePageID)
	_, err = s.Write(0, make([]byte, pageSize-1))
	require.ErrorIs(t, err, ErrBufferSize)

	require.NoError(t, s.Force())
	require.NoError(t, s.Close())

	_, err = s.Read(2, buf)
	require.ErrorIs(t, err, ErrSwapperClosed)
}

func TestFileSwapper_ReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := (&FileSwapperFactory{}).Create(path, testPageSize)
	require.NoError(t, err)
	exerciseSwapper(t, s)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 3*testPageSize)
	require.Equal(t, filledPage(testPageSize, 0xAB), raw[2*testPageSize:])
}

func TestFileSwapper_CloseAndDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.db")
	s, err := (&FileSwapperFactory{}).Create(path, testPageSize)
	require.NoError(t, err)
	require.NoError(t, s.CloseAndDelete())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestFileSwapper_DirectIO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "direct.db")
	factory := &FileSwapperFactory{DirectIO: true}

	_, err := factory.Create(path, directio.BlockSize+1)
	require.ErrorIs(t, err, ErrUnalignedPage)

	s, err := factory.Create(path, directio.BlockSize)
	if err != nil {
		t.Skipf("direct i/o not supported on this file system: %v", err)
	}
	// An unaligned caller buffer goes through a bounce block.
	unaligned := make([]byte, directio.BlockSize+1)[1:]
	copy(unaligned, filledPage(directio.BlockSize, 7))
	if _, err := s.Write(0, unaligned); err != nil {
		require.NoError(t, s.Close())
		t.Skipf("direct i/o write not supported on this file system: %v", err)
	}
	got := directio.AlignedBlock(directio.BlockSize)
	_, err = s.Read(0, got)
	require.NoError(t, err)
	require.Equal(t, filledPage(directio.BlockSize, 7), got)

	// Reads into an unaligned buffer go through a bounce block as well.
	unalignedRead := directio.AlignedBlock(2 * directio.BlockSize)[1 : directio.BlockSize+1]
	n, err := s.Read(0, unalignedRead)
	require.NoError(t, err)
	require.Equal(t, directio.BlockSize, n)
	require.Equal(t, filledPage(directio.BlockSize, 7), unalignedRead)

	// A short read past the end zero-fills the unaligned buffer.
	copy(unalignedRead, filledPage(directio.BlockSize, 0xFF))
	n, err = s.Read(3, unalignedRead)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, make([]byte, directio.BlockSize), unalignedRead)
	require.NoError(t, s.Close())
}

func TestIsAligned(t *testing.T) {
	align := directio.AlignSize
	if align == 0 {
		t.Skip("no alignment requirement on this platform")
	}
	block := directio.AlignedBlock(2 * directio.BlockSize)
	require.True(t, isAligned(block))
	require.True(t, isAligned(block[align:]))
	require.False(t, isAligned(block[1:]))
	require.False(t, isAligned(block[align-1:]))
	require.True(t, isAligned(nil))
}

func TestMemorySwapper_ReadWrite(t *testing.T) {
	factory := NewMemorySwapperFactory()
	s, err := factory.Create("mem/store.db", testPageSize)
	require.NoError(t, err)
	exerciseSwapper(t, s)

	// Contents survive a close and re-create through the same factory.
	s2, err := factory.Create("mem/store.db", testPageSize)
	require.NoError(t, err)
	buf := make([]byte, testPageSize)
	_, err = s2.Read(2, buf)
	require.NoError(t, err)
	require.Equal(t, filledPage(testPageSize, 0xAB), buf)

	require.NoError(t, s2.CloseAndDelete())
	_, ok := factory.Contents("mem/store.db")
	require.False(t, ok)
}

func TestNewFactory(t *testing.T) {
	for _, kind := range []Kind{KindFile, KindDirectIO, KindMemory} {
		f, err := NewFactory(kind)
		require.NoError(t, err)
		require.Equal(t, string(kind), f.Name())
	}
	_, err := NewFactory("tape")
	require.ErrorIs(t, err, ErrUnknownSwapperFS)

	_, err = NewMemorySwapperFactory().Create("x", 0)
	require.ErrorIs(t, err, ErrInvalidPageSize)
}
