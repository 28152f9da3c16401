package audit

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/awokado/core"
)

func TestNewRecord(t *testing.T) {
	identity := &core.Identity{UserID: 7}
	r := NewRecord(context.Background(), "book", core.OperationBulkCreate, identity, []int{1, 2})
	assert.Equal(t, "Create: book", r.Message)
	assert.Equal(t, 7, r.UserID)
	assert.Equal(t, core.OperationBulkCreate, r.Operation)

	r = NewRecord(context.Background(), "book", core.OperationDelete, nil, nil)
	assert.Equal(t, "Delete: book", r.Message)
	assert.Equal(t, 0, r.UserID)

	r = NewRecord(context.Background(), "tag", core.OperationRead, nil, nil)
	assert.Equal(t, "Read: tag", r.Message)
}

func TestLog(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()
	level := logrus.GetLevel()
	logrus.SetLevel(logrus.DebugLevel)
	defer logrus.SetLevel(level)

	Log{Level: logrus.InfoLevel}.Audit(context.Background(), "author", core.OperationUpdate, &core.Identity{UserID: 3}, map[string]interface{}{"id": 1})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Update: author", entry.Message)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, 3, entry.Data["user_id"])
	assert.Equal(t, core.OperationUpdate, entry.Data["operation"])
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi{a, b}.Audit(context.Background(), "store", core.OperationCreate, nil, nil)
	require.Len(t, a.Records, 1)
	require.Len(t, b.Records, 1)
	assert.Equal(t, "store", b.Records[0].Resource)
}
