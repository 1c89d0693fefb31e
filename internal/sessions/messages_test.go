package sessions

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencode-ai/clawdash/internal/agents"
	"github.com/stretchr/testify/require"
)

func TestMessagesLastLines(t *testing.T) {
	root, dir := setupRoot(t)
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, `{"type":"message","timestamp":"t%02d","message":{"role":"user","content":"msg %02d"}}`+"\n", i, i)
	}
	b.WriteString(`{"type":"session","id":"x"}` + "\n")
	b.WriteString(`{"type":"message","timestamp":"t40","message":{"role":"assistant","content":[{"type":"thinking","thinking":"hm"},{"type":"toolCall","name":"exec"}]}}` + "\n")
	b.WriteString(`{"type":"message","timestamp":"t41","message":{"content":[{"type":"text","text":"` + strings.Repeat("y", 400) + `"}]}}` + "\n")
	writeFile(t, filepath.Join(dir, "aaaa1111.jsonl"), b.String())

	lister := NewLister(agents.NewEnumerator(root, ""))
	msgs, err := lister.Messages("aaaa1111", 0)
	require.NoError(t, err)

	// 30 lines scanned: 27 user messages, the session record, a tool call
	// and a long text message.
	require.Len(t, msgs, DefaultMessageLines-1)
	require.Equal(t, "msg 13", msgs[0].Content)
	require.Equal(t, "t13", msgs[0].Timestamp)
	require.Equal(t, "user", msgs[0].Role)

	tool := msgs[len(msgs)-2]
	require.Equal(t, "tool: exec", tool.Content)
	require.Equal(t, "assistant", tool.Role)

	last := msgs[len(msgs)-1]
	require.Equal(t, "unknown", last.Role)
	require.Len(t, last.Content, messageContentLimit)
}

func TestMessagesResolvesIndexKeyAndFragments(t *testing.T) {
	root, dir := setupRoot(t)
	writeFile(t, filepath.Join(dir, IndexFile), index)
	writeFile(t, filepath.Join(dir, "aaaa1111.jsonl"), `{"type":"message","message":{"role":"user","content":"current"}}`+"\n")
	writeFile(t, filepath.Join(dir, "bbbb2222.jsonl.reset.1700000000000"), `{"type":"message","message":{"role":"user","content":"archived"}}`+"\n")

	lister := NewLister(agents.NewEnumerator(root, ""))

	msgs, err := lister.Messages("agent:main:main", 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "current", msgs[0].Content)

	msgs, err = lister.Messages("bbbb2222", 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "archived", msgs[0].Content)

	_, err = lister.Messages("missing", 5)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = lister.Messages("../../etc/passwd", 5)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = lister.Messages("", 5)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSanitizeID(t *testing.T) {
	require.Equal(t, "agent:main:main", SanitizeID("agent:main:main"))
	require.Equal(t, "....etcpasswd", SanitizeID("../../etc/passwd"))
	require.Equal(t, "a-b_c.dx", SanitizeID("a-b_c.d<x> "))
}
