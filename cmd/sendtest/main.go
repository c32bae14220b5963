package main

import (
	"flag"
	"fmt"
	"mime"
	"os"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// 向本地 SMTP 服务投递一封 multipart 测试邮件。
func main() {
	addr := flag.String("addr", "localhost:2525", "SMTP 服务地址")
	to := flag.String("to", "test@tempmail.local", "收件人")
	from := flag.String("from", "sender@example.com", "发件人")
	subject := flag.String("subject", "测试邮件", "邮件主题")
	flag.Parse()

	if err := send(*addr, *from, *to, *subject); err != nil {
		fmt.Printf("错误: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ 已投递到 %s\n", *to)
}

func send(addr, from, to, subject string) error {
	c, err := gosmtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}
	defer c.Close()

	if err := c.Hello("localhost"); err != nil {
		return err
	}
	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("MAIL FROM 被拒绝: %w", err)
	}
	if err := c.Rcpt(to, nil); err != nil {
		return fmt.Errorf("RCPT TO 被拒绝: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(buildMessage(from, to, subject))); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA 被拒绝: %w", err)
	}
	return c.Quit()
}

func buildMessage(from, to, subject string) string {
	boundary := "b-" + uuid.NewString()
	lines := []string{
		"From: " + from,
		"To: " + to,
		"Subject: " + mime.BEncoding.Encode("UTF-8", subject),
		"Date: " + time.Now().Format(time.RFC1123Z),
		"Message-ID: <" + uuid.NewString() + "@sendtest>",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="` + boundary + `"`,
		"",
		"--" + boundary,
		"Content-Type: text/plain; charset=UTF-8",
		"",
		"这是一封测试邮件。",
		"--" + boundary,
		"Content-Type: text/html; charset=UTF-8",
		"",
		"<p>这是一封<b>测试</b>邮件。</p>",
		"--" + boundary + "--",
		"",
	}
	return strings.Join(lines, "\r\n")
}
