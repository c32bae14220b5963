package smtp

import (
	"context"
	"errors"
	"net"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tempmail/inbox/internal/config"
)

// Server SMTP 接收服务器，包装 go-smtp 并在 Accept 时限流。
type Server struct {
	srv     *gosmtp.Server
	limiter *ConnectionLimiter
	backend *Backend
	log     *zap.Logger
}

// NewServer 按配置创建 SMTP 服务器。
func NewServer(backend *Backend, cfg config.SMTPConfig) *Server {
	log := backend.log.Named("smtp")

	srv := gosmtp.NewServer(backend)
	srv.Addr = cfg.BindAddr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = cfg.ReadTimeout
	srv.WriteTimeout = cfg.WriteTimeout
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = cfg.MaxRecipients
	srv.ErrorLog = zap.NewStdLog(log)

	return &Server{
		srv:     srv,
		limiter: NewConnectionLimiter(cfg.MaxConnections, cfg.ConnectionRate),
		backend: backend,
		log:     log,
	}
}

// Addr 返回配置的监听地址
func (s *Server) Addr() string {
	return s.srv.Addr
}

// ListenAndServe 监听配置的地址并开始服务，正常关闭时返回 nil。
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve 在给定的 listener 上服务，正常关闭时返回 nil。
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("SMTP server listening", zap.String("address", l.Addr().String()), zap.String("domain", s.srv.Domain))
	err := s.srv.Serve(&limitedListener{
		Listener: l,
		limiter:  s.limiter,
		onReject: s.onReject,
	})
	if errors.Is(err, gosmtp.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 停止接受新连接并等待现有会话结束。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Close 立即关闭所有连接
func (s *Server) Close() error {
	return s.srv.Close()
}

func (s *Server) onReject(remote net.Addr) {
	s.backend.metrics.RecordSMTPRejected(reasonConnections)
	s.log.Warn("SMTP connection rejected by limiter", zap.Stringer("remote", remote), zap.Int("current", s.limiter.Current()))
}
