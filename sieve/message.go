package sieve

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
	"github.com/migadu/protonfusion/filter"
)

// ContextFromMessage parses an RFC 5322 message into the evaluation context
// for the Sieve executor and the message view used by the rule predicate.
func ContextFromMessage(r io.Reader) (Context, filter.Message, error) {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return Context{}, filter.Message{}, fmt.Errorf("parsing message: %w", err)
	}

	header := mail.Header{Header: entity.Header}
	headers := entity.Header.Map()

	msg := filter.Message{Headers: headers}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	}
	for _, field := range []string{"To", "Cc"} {
		addrs, err := header.AddressList(field)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			msg.Recipients = append(msg.Recipients, a.Address)
		}
	}
	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	}
	mediaType, _, _ := entity.Header.ContentType()
	msg.Attachments = mediaType == "multipart/mixed"

	body, err := plaintextBody(entity)
	if err != nil {
		return Context{}, filter.Message{}, err
	}

	ctx := Context{
		EnvelopeFrom: msg.Sender,
		Header:       headers,
		Body:         body,
	}
	if len(msg.Recipients) > 0 {
		ctx.EnvelopeTo = msg.Recipients[0]
	}
	return ctx, msg, nil
}

// plaintextBody returns the first text/plain part, falling back to the first
// text/html part converted to text.
func plaintextBody(entity *message.Entity) (string, error) {
	var plain, html *string
	err := entity.Walk(func(path []int, part *message.Entity, err error) error {
		if err != nil {
			return err
		}
		mediaType, _, _ := part.Header.ContentType()
		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}
		content, err := io.ReadAll(part.Body)
		if err != nil {
			return fmt.Errorf("reading %s part: %w", mediaType, err)
		}
		s := string(content)
		switch {
		case mediaType == "text/plain" && plain == nil:
			plain = &s
		case mediaType == "text/html" && html == nil:
			html = &s
		case mediaType == "" && plain == nil:
			plain = &s
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking message parts: %w", err)
	}

	switch {
	case plain != nil:
		return *plain, nil
	case html != nil:
		return html2text.HTML2Text(*html), nil
	}
	return "", nil
}
