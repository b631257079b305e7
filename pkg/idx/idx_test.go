package idx_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/healthsign/authagent/pkg/idx"
)

func TestNewAndParse(t *testing.T) {
	t.Parallel()

	id := idx.New()
	require.NotEmpty(t, id.String())
	require.False(t, id.IsZero())

	parsed, err := idx.Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = idx.Parse("not-a-ulid")
	require.ErrorIs(t, err, idx.ErrInvalid)
}

func TestOrdering(t *testing.T) {
	t.Parallel()

	a := idx.NewAt(time.Unix(1, 0).UTC())
	b := idx.NewAt(time.Unix(2, 0).UTC())

	require.Equal(t, -1, idx.Compare(a, b))
	require.Equal(t, 1, idx.Compare(b, a))
	require.Equal(t, 0, idx.Compare(a, a))
}

func TestSameMillisecondStaysOrdered(t *testing.T) {
	t.Parallel()

	ts := time.Unix(3, 0).UTC()
	a := idx.NewAt(ts)
	b := idx.NewAt(ts)
	require.Equal(t, -1, idx.Compare(a, b), "monotonic source must order ids within one millisecond")
}

func TestTimeExtraction(t *testing.T) {
	t.Parallel()

	tm := time.Unix(1700000000, 0).UTC()
	id := idx.NewAt(tm)
	require.WithinDuration(t, tm, id.Time(), time.Millisecond)
}
