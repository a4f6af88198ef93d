package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifier(t *testing.T) {
	assert.Equal(t, pgx.Identifier{"features"}, Identifier("features"))
	assert.Equal(t, pgx.Identifier{"analytics", "features"}, Identifier("analytics.features"))
	assert.Equal(t, `"analytics"."company age"`, Identifier("analytics.company age").Sanitize())
}

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "features", []string{"_id", "profit"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"features"}, []string{"_id", "profit"}).WillReturnResult(3)

	rows := [][]any{{1.0, 10.5}, {2.0, nil}, {3.0, -4.0}}
	n, err := CopyFrom(context.Background(), mock, "features", []string{"_id", "profit"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"analytics", "features"}, []string{"_id"}).WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "analytics.features", []string{"_id"}, [][]any{{1.0}, {2.0}})
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"features"}, []string{"_id"}).WillReturnError(fmt.Errorf("permission denied"))

	_, err = CopyFrom(context.Background(), mock, "features", []string{"_id"}, [][]any{{1.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO features")
	assert.NoError(t, mock.ExpectationsWereMet())
}
