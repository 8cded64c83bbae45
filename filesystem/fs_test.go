package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/brettbedarf/ephemfs"
	"github.com/brettbedarf/ephemfs/config"
	"github.com/brettbedarf/ephemfs/internal/mocks"
	"github.com/brettbedarf/ephemfs/internal/util"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func createTestConfig() *config.Config {
	return config.NewConfig(&config.ConfigOverride{
		PageSize: util.Pointer(16),
	})
}

func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	fs, err := NewFS(createTestConfig())
	require.NoError(t, err)
	t.Cleanup(fs.Dispose)
	return fs
}

// buildListingTree lays out root→{dir1,dir2}, dir1→{sub,file,file2},
// dir2→{file}, sub→{file}
func buildListingTree(t *testing.T, fs *FileSystem) {
	t.Helper()
	require.NoError(t, fs.Mkdirs("/dir1/sub"))
	require.NoError(t, fs.Mkdirs("/dir2"))
	for _, p := range []string{"/dir1/file", "/dir1/file2", "/dir2/file", "/dir1/sub/file"} {
		require.NoError(t, fs.Create(p))
	}
}

func TestNewFS(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)

	info, err := fs.Stat("/")
	require.NoError(t, err)
	assert.True(t, info.IsDir)
	assert.Equal(t, uint64(fuse.FUSE_ROOT_ID), info.Ino)
	assert.Equal(t, "/", fs.WorkingDir())

	_, err = NewFS(&config.Config{PageSize: 0, WorkingDir: "/"})
	assert.Error(t, err)

	_, err = NewFS(&config.Config{PageSize: 8, WorkingDir: "rel"})
	assert.True(t, errors.Is(err, ephemfs.ErrInvalidPath))
}

func TestFileSystem_PathEquivalence(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)

	w, err := fs.Open("myfile", ephemfs.ReadWrite)
	require.NoError(t, err)
	_, err = w.Write([]byte("test"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := fs.Open("/myfile", ephemfs.ReadOnly)
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	buf := make([]byte, 4)
	require.NoError(t, r.ReadFull(buf))
	assert.Equal(t, "test", string(buf))
}

func TestFileSystem_WorkingDir(t *testing.T) {
	t.Parallel()

	cfg := createTestConfig()
	cfg.WorkingDir = "/home/user"
	fs, err := NewFS(cfg)
	require.NoError(t, err)
	defer fs.Dispose()

	require.NoError(t, fs.Mkdirs("."))
	require.NoError(t, fs.WriteFile("notes.txt", []byte("x")))

	assert.True(t, fs.FileExists("/home/user/notes.txt"))
	assert.True(t, fs.IsDirectory("/home"))
	files, err := fs.ListFiles("..")
	require.NoError(t, err)
	assert.Equal(t, []string{"/home/user"}, files)
}

func TestFileSystem_ListFiles(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	buildListingTree(t, fs)

	tests := []struct {
		dir  string
		want []string
	}{
		{"/", []string{"/dir1", "/dir2"}},
		{"/dir1", []string{"/dir1/file", "/dir1/file2", "/dir1/sub"}},
		{"/dir2", []string{"/dir2/file"}},
		{"/dir1/sub", []string{"/dir1/sub/file"}},
		{"dir1/sub/..", []string{"/dir1/file", "/dir1/file2", "/dir1/sub"}},
	}
	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			t.Parallel()
			got, err := fs.ListFiles(tt.dir)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got)
		})
	}

	names, err := fs.ListChildren("/dir1")
	require.NoError(t, err)
	assert.Equal(t, []string{"file", "file2", "sub"}, names)

	_, err = fs.ListFiles("/dir1/file")
	assert.True(t, errors.Is(err, ephemfs.ErrNotADirectory))
	_, err = fs.ListFiles("/nope")
	assert.True(t, errors.Is(err, ephemfs.ErrNotFound))
}

func TestFileSystem_Mkdirs(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)

	require.NoError(t, fs.Mkdirs("/a/b/c"))
	before, err := fs.Stat("/a/b/c")
	require.NoError(t, err)

	require.NoError(t, fs.Mkdirs("/a/b/c"), "mkdirs must be idempotent")
	require.NoError(t, fs.Mkdirs("/a/b"))
	require.NoError(t, fs.Mkdirs("/"))

	after, err := fs.Stat("/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, before.Ino, after.Ino)

	files, err := fs.ListFiles("/a/b")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/b/c"}, files)

	require.NoError(t, fs.Create("/a/f"))
	assert.True(t, errors.Is(fs.Mkdirs("/a/f"), ephemfs.ErrNotADirectory))
	assert.True(t, errors.Is(fs.Mkdirs("/a/f/g"), ephemfs.ErrNotADirectory))
}

func TestFileSystem_Open(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	require.NoError(t, fs.Mkdirs("/dir"))

	t.Run("read-only missing", func(t *testing.T) {
		_, err := fs.Open("/dir/missing", ephemfs.ReadOnly)
		assert.True(t, errors.Is(err, ephemfs.ErrNotFound))
		assert.True(t, oserror.IsNotExist(err), "must read as an OS not-exist error")
	})

	t.Run("write creates", func(t *testing.T) {
		ch, err := fs.Open("/dir/new", ephemfs.ReadWrite)
		require.NoError(t, err)
		require.NoError(t, ch.Close())
		assert.True(t, fs.FileExists("/dir/new"))
	})

	t.Run("write with missing parent", func(t *testing.T) {
		_, err := fs.Open("/nodir/new", ephemfs.ReadWrite)
		assert.True(t, errors.Is(err, ephemfs.ErrNotFound))
		assert.False(t, fs.FileExists("/nodir"), "open must not create parents")
	})

	t.Run("directory", func(t *testing.T) {
		_, err := fs.Open("/dir", ephemfs.ReadOnly)
		assert.True(t, errors.Is(err, ephemfs.ErrIsADirectory))
		_, err = fs.Open("/dir", ephemfs.ReadWrite)
		assert.True(t, errors.Is(err, ephemfs.ErrIsADirectory))
		_, err = fs.Open("/", ephemfs.ReadWrite)
		assert.True(t, errors.Is(err, ephemfs.ErrIsADirectory))
	})

	t.Run("file as parent", func(t *testing.T) {
		_, err := fs.Open("/dir/new/child", ephemfs.ReadWrite)
		assert.True(t, errors.Is(err, ephemfs.ErrNotADirectory))
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := fs.Open("", ephemfs.ReadOnly)
		assert.True(t, errors.Is(err, ephemfs.ErrInvalidPath))
	})
}

func TestFileSystem_MaxChannels(t *testing.T) {
	t.Parallel()

	cfg := createTestConfig()
	cfg.MaxChannels = 1
	fs, err := NewFS(cfg)
	require.NoError(t, err)
	defer fs.Dispose()

	ch, err := fs.Open("/a", ephemfs.ReadWrite)
	require.NoError(t, err)
	_, err = fs.Open("/a", ephemfs.ReadOnly)
	assert.True(t, errors.Is(err, ephemfs.ErrTooManyChannels))

	require.NoError(t, ch.Close())
	ch, err = fs.Open("/a", ephemfs.ReadOnly)
	require.NoError(t, err)
	require.NoError(t, ch.Close())
}

func TestFileSystem_MaxChannels_Concurrent(t *testing.T) {
	t.Parallel()

	const limit = 3
	cfg := createTestConfig()
	cfg.MaxChannels = limit
	fs, err := NewFS(cfg)
	require.NoError(t, err)
	defer fs.Dispose()
	require.NoError(t, fs.Create("/shared"))

	t.Run("hold", func(t *testing.T) {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			opened  []ephemfs.StoreChannel
			badErrs []error
		)
		for range 64 {
			wg.Go(func() {
				ch, err := fs.Open("/shared", ephemfs.ReadOnly)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if !errors.Is(err, ephemfs.ErrTooManyChannels) {
						badErrs = append(badErrs, err)
					}
					return
				}
				opened = append(opened, ch)
			})
		}
		wg.Wait()

		assert.Empty(t, badErrs)
		assert.Len(t, opened, limit)
		assert.Equal(t, limit, fs.OpenChannels())
		for _, ch := range opened {
			require.NoError(t, ch.Close())
		}
		assert.Zero(t, fs.OpenChannels())
	})

	t.Run("churn", func(t *testing.T) {
		var (
			wg       sync.WaitGroup
			exceeded atomic.Bool
		)
		for range 16 {
			wg.Go(func() {
				for range 200 {
					ch, err := fs.Open("/shared", ephemfs.ReadOnly)
					if err != nil {
						runtime.Gosched()
						continue
					}
					if fs.OpenChannels() > limit || fs.slots.Load() > limit {
						exceeded.Store(true)
					}
					runtime.Gosched()
					_ = ch.Close()
				}
			})
		}
		wg.Wait()

		assert.False(t, exceeded.Load(), "open channels went over the limit")
		assert.Zero(t, fs.OpenChannels())
		assert.Zero(t, fs.slots.Load(), "every slot is released")
	})
}

func TestFileSystem_OpenDuringDispose(t *testing.T) {
	t.Parallel()

	fs, err := NewFS(createTestConfig())
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		opened  []ephemfs.StoreChannel
		started atomic.Int64
	)
	for g := range 8 {
		wg.Go(func() {
			for i := 0; ; i++ {
				ch, err := fs.Open(fmt.Sprintf("/g%d-%d", g, i), ephemfs.ReadWrite)
				if err != nil {
					assert.True(t, errors.Is(err, ephemfs.ErrDisposed), "got %v", err)
					return
				}
				mu.Lock()
				opened = append(opened, ch)
				mu.Unlock()
				started.Add(1)
			}
		})
	}
	for started.Load() < 16 {
		runtime.Gosched()
	}
	fs.Dispose()
	wg.Wait()

	assert.Zero(t, fs.OpenChannels())
	assert.Zero(t, fs.root.ChildCount(), "no file is linked after dispose")
	for _, ch := range opened {
		_, err := ch.Size()
		assert.True(t, errors.Is(err, ephemfs.ErrClosedChannel))
	}
}

func TestFileSystem_Create(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)

	require.NoError(t, fs.Create("/f"))
	err := fs.Create("/f")
	assert.True(t, errors.Is(err, ephemfs.ErrAlreadyExists))
	assert.True(t, oserror.IsExist(err))

	assert.True(t, errors.Is(fs.Create("/missing/f"), ephemfs.ErrNotFound))

	info, err := fs.Stat("/f")
	require.NoError(t, err)
	assert.False(t, info.IsDir)
	assert.Zero(t, info.Size)
	assert.Equal(t, "f", info.Name)
	assert.Equal(t, "-rw-r--r--", info.Mode.String())
}

func TestFileSystem_Delete(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	buildListingTree(t, fs)

	assert.True(t, errors.Is(fs.Delete("/dir1"), ephemfs.ErrDirectoryNotEmpty))
	assert.True(t, errors.Is(fs.Delete("/"), ephemfs.ErrInvalidPath))
	assert.True(t, errors.Is(fs.Delete("/nope"), ephemfs.ErrNotFound))

	require.NoError(t, fs.Delete("/dir2/file"))
	require.NoError(t, fs.Delete("/dir2"))
	assert.False(t, fs.FileExists("/dir2"))

	require.NoError(t, fs.DeleteRecursively("/dir1"))
	files, err := fs.ListFiles("/")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFileSystem_Delete_OpenChannel(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	ch, err := fs.Open("/orphan", ephemfs.ReadWrite)
	require.NoError(t, err)
	defer ch.Close() //nolint:errcheck

	require.NoError(t, fs.Delete("/orphan"))
	_, err = ch.Write([]byte("still here"))
	require.NoError(t, err)

	size, err := ch.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	// a new file at the same path gets fresh bytes
	require.NoError(t, fs.Create("/orphan"))
	info, err := fs.Stat("/orphan")
	require.NoError(t, err)
	assert.Zero(t, info.Size)
}

func TestFileSystem_Rename(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	buildListingTree(t, fs)
	require.NoError(t, fs.WriteFile("/dir1/file", []byte("payload")))

	require.NoError(t, fs.Rename("/dir1/file", "/dir2/moved"))
	assert.False(t, fs.FileExists("/dir1/file"))
	data, err := fs.ReadFile("/dir2/moved")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, fs.Rename("/dir1", "/renamed"))
	files, err := fs.ListFiles("/renamed/sub")
	require.NoError(t, err)
	assert.Equal(t, []string{"/renamed/sub/file"}, files)

	node, err := fs.resolver.Walk(fs.root, mustCanonical(t, fs, "/renamed/sub"))
	require.NoError(t, err)
	assert.Equal(t, "/renamed/sub", node.Path().String())

	assert.True(t, errors.Is(fs.Rename("/renamed", "/dir2/file"), ephemfs.ErrAlreadyExists))
	assert.True(t, errors.Is(fs.Rename("/renamed", "/renamed/sub/x"), ephemfs.ErrInvalidPath))
	assert.True(t, errors.Is(fs.Rename("/nope", "/x"), ephemfs.ErrNotFound))
	assert.True(t, errors.Is(fs.Rename("/dir2/file", "/nodir/x"), ephemfs.ErrNotFound))
	assert.True(t, errors.Is(fs.Rename("/", "/x"), ephemfs.ErrInvalidPath))
	require.NoError(t, fs.Rename("/dir2", "/dir2/."), "renaming onto itself is a no-op")
}

func mustCanonical(t *testing.T, fs *FileSystem, p string) CanonicalPath {
	t.Helper()
	c, err := fs.resolver.Canonical(p)
	require.NoError(t, err)
	return c
}

func TestFileSystem_Truncate(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	require.NoError(t, fs.WriteFile("/t", []byte("0123456789")))

	require.NoError(t, fs.Truncate("/t", 3))
	data, err := fs.ReadFile("/t")
	require.NoError(t, err)
	assert.Equal(t, "012", string(data))

	require.NoError(t, fs.Mkdirs("/d"))
	assert.True(t, errors.Is(fs.Truncate("/d", 0), ephemfs.ErrIsADirectory))
	_, err = fs.ReadFile("/d")
	assert.True(t, errors.Is(err, ephemfs.ErrIsADirectory))

	require.NoError(t, fs.WriteFile("/t", []byte("ab")))
	data, err = fs.ReadFile("/t")
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data), "WriteFile replaces content")
}

func TestFileSystem_Walk(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	buildListingTree(t, fs)

	var visited []string
	err := fs.Walk("/", func(info ephemfs.FileInfo) error {
		visited = append(visited, info.Path)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/", "/dir1", "/dir1/file", "/dir1/file2", "/dir1/sub", "/dir1/sub/file", "/dir2", "/dir2/file",
	}, visited)

	stop := errors.New("stop")
	count := 0
	err = fs.Walk("/dir1", func(info ephemfs.FileInfo) error {
		count++
		if info.Name == "file" {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, count)
}

func TestFileSystem_Dispose(t *testing.T) {
	t.Parallel()

	fs, err := NewFS(createTestConfig())
	require.NoError(t, err)

	ch, err := fs.Open("/x", ephemfs.ReadWrite)
	require.NoError(t, err)

	fs.Dispose()
	fs.Dispose()

	assert.Zero(t, fs.OpenChannels())
	_, err = ch.Write([]byte{1})
	assert.True(t, errors.Is(err, ephemfs.ErrClosedChannel))

	_, err = fs.Open("/x", ephemfs.ReadOnly)
	assert.True(t, errors.Is(err, ephemfs.ErrDisposed))
	assert.True(t, errors.Is(fs.Mkdirs("/y"), ephemfs.ErrDisposed))
	assert.False(t, fs.FileExists("/"))
}

func TestFileSystem_AddDirNode(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)

	node, err := fs.AddDirNode(&ephemfs.DirCreateRequest{
		NodeRequest: ephemfs.NodeRequest{Path: "path/to/nested/dir", Perms: 0o700},
	})
	require.NoError(t, err)
	assert.Equal(t, "/path/to/nested/dir", node.Path().String())

	info, err := fs.Stat("/path/to/nested/dir")
	require.NoError(t, err)
	assert.Equal(t, "drwx------", info.Mode.String())

	parent, err := fs.Stat("/path")
	require.NoError(t, err)
	assert.Equal(t, "drwxr-xr-x", parent.Mode.String(), "implicit ancestors get the default perms")

	t.Run("existing dir takes requested perms", func(t *testing.T) {
		require.NoError(t, fs.Mkdirs("/existing"))

		_, err := fs.AddDirNode(&ephemfs.DirCreateRequest{
			NodeRequest: ephemfs.NodeRequest{Path: "/existing", Perms: 0o750},
		})
		require.NoError(t, err)
		info, err := fs.Stat("/existing")
		require.NoError(t, err)
		assert.Equal(t, "drwxr-x---", info.Mode.String())

		_, err = fs.AddDirNode(&ephemfs.DirCreateRequest{
			NodeRequest: ephemfs.NodeRequest{Path: "/existing"},
		})
		require.NoError(t, err)
		info, err = fs.Stat("/existing")
		require.NoError(t, err)
		assert.Equal(t, "drwxr-x---", info.Mode.String(), "zero perms keep the current bits")
	})
}

func TestFileSystem_AddFileNode(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)

	src := &mocks.MockContentSource{}
	src.On("Open", mock.Anything).Return(io.NopCloser(bytes.NewReader([]byte("seeded"))), nil).Once()

	node, err := fs.AddFileNode(context.Background(), &ephemfs.FileCreateRequest{
		NodeRequest: ephemfs.NodeRequest{Path: "/data/a.txt", Perms: 0o600},
		Source:      src,
		Size:        10,
	})
	require.NoError(t, err)
	src.AssertExpectations(t)
	assert.Equal(t, "/data/a.txt", node.Path().String())

	data, err := fs.ReadFile("/data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("seeded\x00\x00\x00\x00"), data)

	t.Run("already exists", func(t *testing.T) {
		_, err := fs.AddFileNode(context.Background(), &ephemfs.FileCreateRequest{
			NodeRequest: ephemfs.NodeRequest{Path: "/data/a.txt"},
		})
		assert.True(t, errors.Is(err, ephemfs.ErrAlreadyExists))
	})

	t.Run("failing source leaves tree untouched", func(t *testing.T) {
		bad := &mocks.MockContentSource{}
		bad.On("Open", mock.Anything).Return(nil, fmt.Errorf("boom"))

		_, err := fs.AddFileNode(context.Background(), &ephemfs.FileCreateRequest{
			NodeRequest: ephemfs.NodeRequest{Path: "/other/b.txt"},
			Source:      bad,
		})
		require.Error(t, err)
		assert.False(t, fs.FileExists("/other"))
	})
}

func TestFileSystem_AddFileNode_FailuresKeepInodeNumbers(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	require.NoError(t, fs.Create("/first"))
	first, err := fs.Stat("/first")
	require.NoError(t, err)

	bad := &mocks.MockContentSource{}
	bad.On("Open", mock.Anything).Return(nil, fmt.Errorf("boom"))
	_, err = fs.AddFileNode(context.Background(), &ephemfs.FileCreateRequest{
		NodeRequest: ephemfs.NodeRequest{Path: "/failed"},
		Source:      bad,
	})
	require.Error(t, err)
	_, err = fs.AddFileNode(context.Background(), &ephemfs.FileCreateRequest{
		NodeRequest: ephemfs.NodeRequest{Path: "/first"},
	})
	require.True(t, errors.Is(err, ephemfs.ErrAlreadyExists))

	require.NoError(t, fs.Create("/second"))
	second, err := fs.Stat("/second")
	require.NoError(t, err)
	assert.Equal(t, first.Ino+1, second.Ino)
}

func TestFileSystem_ConcurrentStructure(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Go(func() {
			dir := fmt.Sprintf("/c/%d", i%5)
			assert.NoError(t, fs.Mkdirs(dir))
			ch, err := fs.Open(fmt.Sprintf("%s/f%d", dir, i), ephemfs.ReadWrite)
			if !assert.NoError(t, err) {
				return
			}
			_, err = ch.Write([]byte{byte(i)})
			assert.NoError(t, err)
			assert.NoError(t, ch.Close())
			_, err = fs.ListFiles(dir)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	total := 0
	err := fs.Walk("/c", func(info ephemfs.FileInfo) error {
		if !info.IsDir {
			total++
			assert.Equal(t, int64(1), info.Size)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 50, total)
	assert.Zero(t, fs.OpenChannels())
}

func TestFileSystem_ConcurrentSharedWrites(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	require.NoError(t, fs.Create("/shared"))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			ch, err := fs.Open("/shared", ephemfs.ReadWrite)
			if !assert.NoError(t, err) {
				return
			}
			defer ch.Close() //nolint:errcheck
			_, err = ch.WriteAt(bytes.Repeat([]byte{byte('a' + i)}, 32), int64(i*32))
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	data, err := fs.ReadFile("/shared")
	require.NoError(t, err)
	require.Len(t, data, 256)
	for i := range 8 {
		assert.Equal(t, bytes.Repeat([]byte{byte('a' + i)}, 32), data[i*32:(i+1)*32])
	}
}
