package diskbuilder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPipeline(t *testing.T, ext4 Ext4Formatter) *Pipeline {
	t.Helper()
	return &Pipeline{
		Estimator:   &Estimator{Source: afero.NewOsFs()},
		Builder:     &Builder{Source: afero.NewOsFs(), WorkDir: t.TempDir(), Ext4: ext4},
		Assembler:   &Assembler{},
		Parallelism: 2,
	}
}

func sourceTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return root
}

// TestPipelineTwoPartitions tests a FAT32 and an ext4 partition end to end
func TestPipelineTwoPartitions(t *testing.T) {
	boot := sourceTree(t, map[string]string{"EFI/BOOT/BOOTX64.EFI": "not really an efi binary"})
	rootfs := sourceTree(t, map[string]string{"etc/hostname": "ds2img\n"})
	out := filepath.Join(t.TempDir(), "root.img")

	p := testPipeline(t, &fakeExt4{marker: []byte("EXT4TEST")})
	specs := []PartitionSpec{
		{Name: "boot", SourcePath: boot, Filesystem: FAT32},
		{Name: "rootfs", SourcePath: rootfs, Filesystem: EXT4},
	}

	plans, err := p.Plan(context.Background(), specs)
	require.NoError(t, err)
	require.Len(t, plans, 2)

	result, err := p.Run(context.Background(), specs, out)
	require.NoError(t, err)

	infos, err := Inspect(out)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "boot", infos[0].Name)
	assert.Equal(t, "rootfs", infos[1].Name)
	assert.Equal(t, plans[0].Size, infos[0].Length)
	assert.Equal(t, plans[1].Size, infos[1].Length)
	assert.Equal(t, infos[0].Start+infos[0].Length, infos[1].Start)

	image, err := os.ReadFile(out)
	require.NoError(t, err)
	start := result.Partitions[1].Start
	assert.Equal(t, "EXT4TEST", string(image[start:start+8]))
}

// TestPipelineSizeOverride tests that a configured size skips estimation
func TestPipelineSizeOverride(t *testing.T) {
	p := testPipeline(t, nil)

	plans, err := p.Plan(context.Background(), []PartitionSpec{
		{Name: "data", SourcePath: "/does/not/matter", Filesystem: FAT32, SizeOverride: 16 * mib},
	})
	require.NoError(t, err)
	assert.Nil(t, plans[0].Estimate)
	assert.Equal(t, uint64(16*mib), plans[0].Size)
}

// TestPipelineBuildFailure tests that a failed build leaves no image behind
func TestPipelineBuildFailure(t *testing.T) {
	boot := sourceTree(t, map[string]string{"a.txt": "a"})
	rootfs := sourceTree(t, map[string]string{"b.txt": "b"})
	outDir := t.TempDir()
	out := filepath.Join(outDir, "root.img")

	p := testPipeline(t, &fakeExt4{err: errors.New("mke2fs: exit status 1")})
	_, err := p.Run(context.Background(), []PartitionSpec{
		{Name: "boot", SourcePath: boot, Filesystem: FAT32},
		{Name: "rootfs", SourcePath: rootfs, Filesystem: EXT4},
	}, out)
	assert.ErrorIs(t, err, ErrExternalTool)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	work, err := os.ReadDir(p.Builder.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, work)
}

// TestPipelineEstimationFailure tests that a missing source fails before anything is built
func TestPipelineEstimationFailure(t *testing.T) {
	p := testPipeline(t, nil)
	_, err := p.Run(context.Background(), []PartitionSpec{
		{Name: "boot", SourcePath: filepath.Join(t.TempDir(), "missing"), Filesystem: FAT32},
	}, filepath.Join(t.TempDir(), "root.img"))
	assert.ErrorIs(t, err, ErrEstimation)

	_, err = p.Run(context.Background(), nil, filepath.Join(t.TempDir(), "root.img"))
	assert.ErrorIs(t, err, ErrConfig)
}
