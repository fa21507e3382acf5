package diskbuilder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"testing"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExt4 stands in for mke2fs: it stamps a marker at the start of the
// image, or fails.
type fakeExt4 struct {
	marker []byte
	err    error
	calls  int
}

func (f *fakeExt4) Format(ctx context.Context, sourceDir, imagePath string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	file, err := os.OpenFile(imagePath, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.WriteAt(f.marker, 0)
	return err
}

// readContent drains a built partition into a file under dir.
func readContent(t *testing.T, part *BuiltPartition, dir string) string {
	t.Helper()
	content, err := part.take()
	require.NoError(t, err)

	path := filepath.Join(dir, part.Name+".img")
	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	n, err := io.Copy(out, content)
	require.NoError(t, err)
	require.Equal(t, int64(part.Size), n)
	return path
}

// TestBuildFAT32RoundTrip tests that files written into a FAT32 partition read back intact
func TestBuildFAT32RoundTrip(t *testing.T) {
	source := memSource(t, nil)
	require.NoError(t, source.MkdirAll("/src/sub/deeper", 0o755))
	require.NoError(t, afero.WriteFile(source, "/src/hello.txt", []byte("hello, world\n"), 0o644))
	require.NoError(t, afero.WriteFile(source, "/src/sub/data.bin", bytes.Repeat([]byte{0xA5}, 9000), 0o644))

	b := &Builder{Source: source, WorkDir: t.TempDir()}
	part, err := b.Build(context.Background(), PartitionSpec{
		Name:       "boot",
		SourcePath: "/src",
		Filesystem: FAT32,
	}, fat32MinimumSize)
	require.NoError(t, err)
	defer part.Close()

	assert.Equal(t, uint64(fat32MinimumSize), part.Size)
	assert.Equal(t, DefaultPartitionType, part.TypeGUID)

	imagePath := readContent(t, part, t.TempDir())
	img, err := diskfs.Open(imagePath, diskfs.WithOpenMode(diskfs.ReadOnly))
	require.NoError(t, err)
	defer img.Close()

	fs, err := img.GetFilesystem(0)
	require.NoError(t, err)

	hello, err := fs.OpenFile("/hello.txt", os.O_RDONLY)
	require.NoError(t, err)
	got, err := io.ReadAll(hello)
	require.NoError(t, err)
	assert.Equal(t, "hello, world\n", string(got))

	data, err := fs.OpenFile("/sub/data.bin", os.O_RDONLY)
	require.NoError(t, err)
	got, err = io.ReadAll(data)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xA5}, 9000), got)

	entries, err := fs.ReadDir("/sub")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"data.bin", "deeper"}, names)
}

// TestBuildFAT32DiskFull tests that an undersized partition fails as disk full
func TestBuildFAT32DiskFull(t *testing.T) {
	source := memSource(t, map[string]int{"/src/huge.bin": 12 * 1024 * 1024})

	b := &Builder{Source: source, WorkDir: t.TempDir()}
	_, err := b.Build(context.Background(), PartitionSpec{
		Name:       "boot",
		SourcePath: "/src",
		Filesystem: FAT32,
	}, fat32MinimumSize)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuild)

	leftovers, err := os.ReadDir(b.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

// TestBuildExt4UsesFormatter tests the ext4 path against a stand-in formatter
func TestBuildExt4UsesFormatter(t *testing.T) {
	formatter := &fakeExt4{marker: []byte("EXT4TEST")}
	b := &Builder{WorkDir: t.TempDir(), Ext4: formatter}

	part, err := b.Build(context.Background(), PartitionSpec{
		Name:       "rootfs",
		SourcePath: t.TempDir(),
		Filesystem: EXT4,
		TypeGUID:   "0FC63DAF-8483-4772-8E79-3D69D8477DE4",
	}, 4*1024*1024)
	require.NoError(t, err)

	assert.Equal(t, 1, formatter.calls)
	assert.Equal(t, uint64(4*1024*1024), part.Size)
	assert.EqualValues(t, "0FC63DAF-8483-4772-8E79-3D69D8477DE4", part.TypeGUID)

	imagePath := readContent(t, part, t.TempDir())
	head := make([]byte, 8)
	f, err := os.Open(imagePath)
	require.NoError(t, err)
	defer f.Close()
	_, err = io.ReadFull(f, head)
	require.NoError(t, err)
	assert.Equal(t, "EXT4TEST", string(head))

	// closing the partition removes its work directory
	require.NoError(t, part.Close())
	leftovers, err := os.ReadDir(b.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

// TestBuildExt4FormatterFailure tests that any formatter failure is an external tool error
func TestBuildExt4FormatterFailure(t *testing.T) {
	b := &Builder{WorkDir: t.TempDir(), Ext4: &fakeExt4{err: errors.New("boom")}}

	_, err := b.Build(context.Background(), PartitionSpec{
		Name:       "rootfs",
		SourcePath: t.TempDir(),
		Filesystem: EXT4,
	}, 4*1024*1024)
	assert.ErrorIs(t, err, ErrExternalTool)

	leftovers, err := os.ReadDir(b.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

// TestMke2fsNonZeroExit tests that a failing tool is reported with ErrExternalTool
func TestMke2fsNonZeroExit(t *testing.T) {
	binary, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}

	m := &Mke2fs{Binary: binary}
	err = m.Format(context.Background(), t.TempDir(), filepath.Join(t.TempDir(), "x.img"))
	assert.ErrorIs(t, err, ErrExternalTool)

	m = &Mke2fs{Binary: filepath.Join(t.TempDir(), "no-such-mke2fs")}
	err = m.Format(context.Background(), t.TempDir(), filepath.Join(t.TempDir(), "x.img"))
	assert.ErrorIs(t, err, ErrExternalTool)
}

// TestMke2fsFormat tests a real ext4 build when mke2fs is installed
func TestMke2fsFormat(t *testing.T) {
	if _, err := exec.LookPath("mke2fs"); err != nil {
		t.Skip("mke2fs not available")
	}

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("ext4 payload"), 0o644))

	est, err := NewEstimator(SkipUnreadable).Estimate(context.Background(), src, EXT4)
	require.NoError(t, err)

	b := NewBuilder(t.TempDir(), &Mke2fs{})
	part, err := b.Build(context.Background(), PartitionSpec{Name: "rootfs", SourcePath: src, Filesystem: EXT4}, est.Total)
	require.NoError(t, err)
	defer part.Close()
	assert.Equal(t, est.Total, part.Size)

	imagePath := readContent(t, part, t.TempDir())
	f, err := os.Open(imagePath)
	require.NoError(t, err)
	defer f.Close()

	// superblock magic lives 56 bytes into the superblock at offset 1024
	magic := make([]byte, 2)
	_, err = f.ReadAt(magic, 1024+56)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x53, 0xEF}, magic)
}

// TestBuiltPartitionSingleUse tests that content can be taken only once
func TestBuiltPartitionSingleUse(t *testing.T) {
	part := NewBuiltPartition("p", FAT32, 512, io.NopCloser(bytes.NewReader(make([]byte, 512))))

	_, err := part.take()
	require.NoError(t, err)
	_, err = part.take()
	assert.ErrorIs(t, err, ErrContentConsumed)

	assert.NoError(t, part.Close())
	assert.NoError(t, part.Close())
}

// TestFat32Label tests volume label derivation
func TestFat32Label(t *testing.T) {
	assert.Equal(t, "BOOT", fat32Label("boot"))
	assert.Equal(t, "EFISYSTEMPA", fat32Label("efi-system-partition"))
	assert.Equal(t, "DS2IMG", fat32Label("---"))
}

// TestParseFilesystemType tests filesystem names
func TestParseFilesystemType(t *testing.T) {
	fsType, err := ParseFilesystemType("FAT32")
	require.NoError(t, err)
	assert.Equal(t, FAT32, fsType)
	assert.Equal(t, "ext4", EXT4.String())

	_, err = ParseFilesystemType("ntfs")
	assert.ErrorIs(t, err, ErrUnknownFilesystem)
}

// listImage walks a go-diskfs filesystem and returns every file with its size.
func listImage(t *testing.T, fs filesystem.FileSystem, dir string, out map[string]int64) {
	t.Helper()
	entries, err := fs.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		p := path.Join(dir, e.Name())
		if e.IsDir() {
			listImage(t, fs, p, out)
			continue
		}
		out[strings.TrimPrefix(p, "/")] = e.Size()
	}
}

// TestFAT32EstimateScenario tests a.txt and sub/b.bin built with their own estimate
func TestFAT32EstimateScenario(t *testing.T) {
	source := memSource(t, nil)
	require.NoError(t, source.MkdirAll("/src/sub", 0o755))
	require.NoError(t, afero.WriteFile(source, "/src/a.txt", bytes.Repeat([]byte("a"), 10), 0o644))
	require.NoError(t, afero.WriteFile(source, "/src/sub/b.bin", bytes.Repeat([]byte{0x42}, 20), 0o644))

	est, err := (&Estimator{Source: source}).Estimate(context.Background(), "/src", FAT32)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, est.Total, est.ReservedRegion+roundUp(30, fat32ClusterSize)+roundUp(2*32, fat32ClusterSize))

	b := &Builder{Source: source, WorkDir: t.TempDir()}
	part, err := b.Build(context.Background(), PartitionSpec{Name: "data", SourcePath: "/src", Filesystem: FAT32}, est.Total)
	require.NoError(t, err)
	defer part.Close()

	img, err := diskfs.Open(readContent(t, part, t.TempDir()), diskfs.WithOpenMode(diskfs.ReadOnly))
	require.NoError(t, err)
	defer img.Close()
	fs, err := img.GetFilesystem(0)
	require.NoError(t, err)

	// same (path, size) pairs as the source walk
	want := map[string]int64{}
	require.NoError(t, afero.Walk(source, "/src", func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		want[strings.TrimPrefix(p, "/src/")] = info.Size()
		return nil
	}))
	got := map[string]int64{}
	listImage(t, fs, "/", got)
	assert.Equal(t, map[string]int64{"a.txt": 10, "sub/b.bin": 20}, want)
	assert.Equal(t, want, got)

	f, err := fs.OpenFile("/sub/b.bin", os.O_RDONLY)
	require.NoError(t, err)
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x42}, 20), body)
}

// TestBuildFAT32CaseCollision tests that names differing only in case are rejected
func TestBuildFAT32CaseCollision(t *testing.T) {
	cases := map[string]map[string]int{
		"files": {
			"/src/A.txt": 10,
			"/src/a.txt": 20,
		},
		"directories": {
			"/src/Sub/x.bin": 1,
			"/src/sub/y.bin": 2,
		},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			b := &Builder{Source: memSource(t, files), WorkDir: t.TempDir()}
			_, err := b.Build(context.Background(), PartitionSpec{
				Name:       "data",
				SourcePath: "/src",
				Filesystem: FAT32,
			}, fat32MinimumSize)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBuild)
			assert.ErrorIs(t, err, ErrDuplicateName)

			leftovers, err := os.ReadDir(b.WorkDir)
			require.NoError(t, err)
			assert.Empty(t, leftovers)
		})
	}
}

// TestFatNamesSeparateDirectories tests that equal names in different directories are fine
func TestFatNamesSeparateDirectories(t *testing.T) {
	names := fatNames{}
	require.NoError(t, names.add("/a/readme.txt"))
	require.NoError(t, names.add("/b/README.TXT"))
	require.NoError(t, names.add("/a"))
	assert.ErrorIs(t, names.add("/a/README.txt"), ErrDuplicateName)
	assert.ErrorIs(t, names.add("/A"), ErrDuplicateName)
}

// TestSkipPolicyStillFailsBuild tests that an unreadable directory estimated
// under skip still fails the FAT32 copy
func TestSkipPolicyStillFailsBuild(t *testing.T) {
	source := &lockedFs{
		Fs:     memSource(t, map[string]int{"/src/a.txt": 10, "/src/locked/b.bin": 5}),
		locked: "/src/locked",
	}

	est, err := (&Estimator{Source: source, Policy: SkipUnreadable}).Estimate(context.Background(), "/src", FAT32)
	require.NoError(t, err)
	assert.Equal(t, 1, est.Skipped)

	b := &Builder{Source: source, WorkDir: t.TempDir()}
	_, err = b.Build(context.Background(), PartitionSpec{Name: "data", SourcePath: "/src", Filesystem: FAT32}, est.Total)
	assert.ErrorIs(t, err, ErrBuild)
	assert.ErrorIs(t, err, os.ErrPermission)
}
