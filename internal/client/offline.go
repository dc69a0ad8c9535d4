package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultBusFile 离线总线的默认共享文件名（放在系统临时目录）
const DefaultBusFile = "jackalopes-events.jsonl"

// busRecord 总线上的一行：实例标签 + 原始事件
// 标签用于跳过自己写入的行，事件本身原样透传
type busRecord struct {
	Tag  string          `json:"tag"`
	Data json.RawMessage `json:"data"`
}

// OfflineBus 离线事件总线
// 传输通道不可用时射击/命中事件的兜底路径：事件追加到共享
// JSONL 文件，本机其他客户端进程经 fsnotify 监听增量读取，
// 无服务器也能做本地多窗口联调
type OfflineBus struct {
	path string
	tag  string

	mu     sync.Mutex
	f      *os.File
	offset int64
	closed bool

	watcher *fsnotify.Watcher
	out     chan []byte
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewOfflineBus 打开离线总线，path 为空时用系统临时目录下的默认文件
func NewOfflineBus(path string) (*OfflineBus, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), DefaultBusFile)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开总线文件失败: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("读取总线文件信息失败: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		f.Close()
		return nil, fmt.Errorf("监听总线文件失败: %w", err)
	}

	b := &OfflineBus{
		path:    path,
		tag:     fmt.Sprintf("%d-%04d", os.Getpid(), rand.Intn(10000)),
		f:       f,
		offset:  info.Size(), // 只消费打开之后的新事件
		watcher: watcher,
		out:     make(chan []byte, 64),
		done:    make(chan struct{}),
	}

	b.wg.Add(1)
	go b.watchLoop()

	return b, nil
}

// Publish 发布一条事件（追加一行）
func (b *OfflineBus) Publish(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	line, err := json.Marshal(busRecord{Tag: b.tag, Data: data})
	if err != nil {
		return fmt.Errorf("序列化总线记录失败: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("总线已关闭")
	}
	if _, err := b.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("写入总线文件失败: %w", err)
	}
	return nil
}

// Events 其他实例发布的事件（原始 JSON）
func (b *OfflineBus) Events() <-chan []byte {
	return b.out
}

// Close 关闭总线
func (b *OfflineBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.watcher.Close()
	b.wg.Wait()
	b.f.Close()
}

// watchLoop 监听写事件，增量读取新行
func (b *OfflineBus) watchLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return

		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Write != 0 {
				b.readNew()
			}

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("总线文件监听出错")
		}
	}
}

// readNew 从上次偏移处读取新追加的行
func (b *OfflineBus) readNew() {
	b.mu.Lock()
	offset := b.offset
	b.mu.Unlock()

	f, err := os.Open(b.path)
	if err != nil {
		log.Warn().Err(err).Msg("读取总线文件失败")
		return
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return
	}

	// 偏移只跨过以换行结尾的完整行；写到一半的尾行留在原地，
	// 等发布方补完换行后下一次写事件再消费，事件不会被跨过丢失
	reader := bufio.NewReader(f)
	read := int64(0)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			break
		}
		read += int64(len(line))

		var rec busRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// 脏数据，跳过但照常推进偏移
			continue
		}
		if rec.Tag == b.tag {
			continue
		}
		select {
		case b.out <- rec.Data:
		default:
		}
	}

	b.mu.Lock()
	b.offset = offset + read
	b.mu.Unlock()
}
