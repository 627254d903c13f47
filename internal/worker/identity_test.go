package worker

import (
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ocr-03/4242/gemini-1", ID("ocr-03", 4242, "gemini-1"))
	assert.Equal(t, "ocr-03/4242", ID("ocr-03", 4242, ""))

	local := LocalID("gemini-2")
	assert.True(t, strings.HasSuffix(local, "/gemini-2"))
	assert.Contains(t, local, "/"+strconv.Itoa(os.Getpid())+"/")
}
