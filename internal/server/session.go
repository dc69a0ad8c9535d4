package server

// Session 中继侧看到的一条客户端会话
// Done 把延迟发送绑定到连接生命周期：套接字关闭后不得再有迟到投递
type Session interface {
	ID() int32
	Send(data []byte) error
	Done() <-chan struct{}
	Close()
	CloseWithoutNotify()
	SetPlayerID(id int32)
}
