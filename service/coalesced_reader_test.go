package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"checkout_system/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingReader 读取在 release 关闭前阻塞，返回时若 ctx 已结束则返回 ctx 的错误
type blockingReader struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *blockingReader) FindByID(ctx context.Context, id int64, _ ...string) (*model.Discount, error) {
	r.once.Do(func() { close(r.entered) })
	<-r.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &model.Discount{ID: id, Code: "SAVE10"}, nil
}

// TestCoalescedReader_FirstCallerCancelled 第一个调用方取消后，合并在同一次查询上的其他调用方仍拿到结果
func TestCoalescedReader_FirstCallerCancelled(t *testing.T) {
	inner := &blockingReader{entered: make(chan struct{}), release: make(chan struct{})}
	reader := newCoalescedReader(inner)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := reader.FindByID(firstCtx, 7)
		firstErr <- err
	}()
	<-inner.entered

	type result struct {
		d   *model.Discount
		err error
	}
	second := make(chan result, 1)
	go func() {
		d, err := reader.FindByID(context.Background(), 7)
		second <- result{d, err}
	}()
	// 等待第二个调用方加入同一次查询
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(inner.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, int64(7), res.d.ID)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
}
