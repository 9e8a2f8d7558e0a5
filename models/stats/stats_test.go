package stats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-bodymeasure/errs"
)

func sampleStats(offset float64) *Stats {
	s := &Stats{Mean: make([]float64, 14), Std: make([]float64, 14)}
	for i := range s.Mean {
		s.Mean[i] = 50 + offset + float64(i)
		s.Std[i] = 2
	}
	return s
}

func writeStats(t *testing.T, s *Stats) string {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "normalization_stats.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

type metadata map[string]string

func (m metadata) LookupMetadata(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

type resolverFunc func(ctx context.Context) (string, error)

func (f resolverFunc) ResolveStats(ctx context.Context) (string, error) { return f(ctx) }

func TestDenormalize(t *testing.T) {
	s := sampleStats(0)
	out := make([]float32, 14)
	out[0], out[13] = 1, -0.5

	values, err := s.Denormalize(out)
	require.NoError(t, err)
	assert.InDelta(t, 52.0, values[0], 1e-9)
	assert.InDelta(t, 62.0, values[13], 1e-9)
	assert.InDelta(t, 51.0, values[1], 1e-9)

	_, err = s.Denormalize(out[:3])
	assert.Error(t, err)
}

func TestIdentityLeavesOutputsUnchanged(t *testing.T) {
	id := Identity()
	assert.True(t, id.IsIdentity())
	assert.False(t, sampleStats(0).IsIdentity())

	out := []float32{0.25, -1, 3, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 7}
	values, err := id.Denormalize(out)
	require.NoError(t, err)
	for i, v := range out {
		assert.Equal(t, float64(v), values[i])
	}
}

func TestParse(t *testing.T) {
	s, err := Parse([]byte(`{"target_mean": [1,2,3,4,5,6,7,8,9,10,11,12,13,14],
		"target_std": [1,1,1,1,1,1,1,1,1,1,1,1,1,1]}`))
	require.NoError(t, err)
	assert.Equal(t, 14.0, s.Mean[13])

	_, err = Parse([]byte(`{"target_mean": [1], "target_std": [1]}`))
	assert.Error(t, err, "wrong length is rejected")
	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestEmbedded(t *testing.T) {
	want := sampleStats(0)
	mean, _ := json.Marshal(want.Mean)
	std, _ := json.Marshal(want.Std)

	got, err := Embedded{Model: metadata{MetadataMean: string(mean), MetadataStd: string(std)}}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Embedded{Model: metadata{MetadataMean: string(mean)}}.Load(context.Background())
	assert.ErrorIs(t, err, errs.ErrStatsUnavailable)
	_, err = Embedded{}.Load(context.Background())
	assert.ErrorIs(t, err, errs.ErrStatsUnavailable)
}

func TestChainOrder(t *testing.T) {
	embedded := sampleStats(100)
	mean, _ := json.Marshal(embedded.Mean)
	std, _ := json.Marshal(embedded.Std)
	local := sampleStats(200)
	localPath := writeStats(t, local)
	remote := sampleStats(300)
	remotePath := writeStats(t, remote)

	remoteCalls := 0
	remoteSrc := Remote{Resolver: resolverFunc(func(context.Context) (string, error) {
		remoteCalls++
		return remotePath, nil
	})}

	tests := []struct {
		name    string
		sources []Source
		origin  Origin
		want    *Stats
	}{
		{
			name: "embedded wins",
			sources: []Source{
				Embedded{Model: metadata{MetadataMean: string(mean), MetadataStd: string(std)}},
				LocalFile{Path: localPath}, remoteSrc,
			},
			origin: OriginEmbedded,
			want:   embedded,
		},
		{
			name:    "local file when nothing is embedded",
			sources: []Source{Embedded{Model: metadata{}}, LocalFile{Path: localPath}, remoteSrc},
			origin:  OriginLocal,
			want:    local,
		},
		{
			name: "remote when no local file",
			sources: []Source{
				Embedded{Model: metadata{}},
				LocalFile{Path: filepath.Join(t.TempDir(), "missing.json")}, remoteSrc,
			},
			origin: OriginRemote,
			want:   remote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewChain(zap.NewNop(), tt.sources...).Load(context.Background())
			assert.Equal(t, tt.origin, res.Origin)
			assert.Equal(t, tt.want, res.Stats)
			assert.False(t, res.Degraded)
			assert.Empty(t, res.Warning)
		})
	}
	assert.Equal(t, 1, remoteCalls, "remote is only consulted after local sources")
}

func TestChainMarksIdentityFileDegraded(t *testing.T) {
	res := NewChain(zap.NewNop(), LocalFile{Path: writeStats(t, Identity())}).Load(context.Background())
	assert.Equal(t, OriginLocal, res.Origin)
	assert.True(t, res.Degraded)
	assert.Equal(t, DegradedWarning, res.Warning)
}

func TestChainFallsBackToIdentity(t *testing.T) {
	failing := Remote{Resolver: resolverFunc(func(context.Context) (string, error) {
		return "", errs.ArtifactUnavailable("normalization_stats.json", errors.New("offline"))
	})}

	res := NewChain(nil, Embedded{}, LocalFile{Path: "/does/not/exist.json"}, failing).Load(context.Background())
	assert.Equal(t, OriginIdentity, res.Origin)
	assert.True(t, res.Degraded)
	assert.Equal(t, DegradedWarning, res.Warning)
	assert.True(t, res.Stats.IsIdentity())
}
