package flagx

import (
	"os"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	server := []string{"-a", "-l", "-d", "-q", "-r"}

	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "keeps owned flags with values",
			args:    []string{"-a", ":50051", "-c", "cfg.json", "-d", "postgres://db"},
			allowed: server,
			want:    []string{"-a", ":50051", "-d", "postgres://db"},
		},
		{
			name:    "equals form",
			args:    []string{"-q=k1:9092,k2:9092", "-config=cfg.json"},
			allowed: server,
			want:    []string{"-q=k1:9092,k2:9092"},
		},
		{
			name:    "config layer sees only its flags",
			args:    []string{"-a", ":7000", "-config", "cfg.json", "-r", "redis:6379"},
			allowed: []string{"-c", "-config"},
			want:    []string{"-config", "cfg.json"},
		},
		{
			name:    "dangling flag at the end",
			args:    []string{"-r"},
			allowed: server,
			want:    []string{"-r"},
		},
		{
			name:    "next flag is not taken as a value",
			args:    []string{"-l", "-a", ":50051"},
			allowed: server,
			want:    []string{"-l", "-a", ":50051"},
		},
		{
			name:    "positional arguments dropped",
			args:    []string{"serve", "--verbose", "extra"},
			allowed: server,
			want:    []string{},
		},
		{
			name:    "repeated flag preserved in order",
			args:    []string{"-d", "first", "-d", "second"},
			allowed: server,
			want:    []string{"-d", "first", "-d", "second"},
		},
		{
			name:    "empty",
			args:    nil,
			allowed: server,
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterArgs(tt.args, tt.allowed)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("FilterArgs() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestJsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("short -c with value", func(t *testing.T) {
		os.Args = []string{"paywall", "-c", "/path/short.json"}
		assert.Equal(t, "/path/short.json", JsonConfigFlags())
	})

	t.Run("long -config with value", func(t *testing.T) {
		os.Args = []string{"paywall", "-config", "/path/long.json"}
		assert.Equal(t, "/path/long.json", JsonConfigFlags())
	})

	t.Run("server flags are ignored", func(t *testing.T) {
		os.Args = []string{"paywall", "-a", ":50051", "-d", "postgres://db"}
		assert.Empty(t, JsonConfigFlags())
	})

	t.Run("equals form", func(t *testing.T) {
		os.Args = []string{"paywall", "-config=/etc/paywall.json", "-a", ":1"}
		assert.Equal(t, "/etc/paywall.json", JsonConfigFlags())
	})

	t.Run("multiple flags, last wins", func(t *testing.T) {
		os.Args = []string{"paywall", "-c", "/path/1.json", "-config", "/path/2.json"}
		assert.Equal(t, "/path/2.json", JsonConfigFlags())
	})
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitList(" a, b ,,c "))
	assert.Nil(t, SplitList(""))
	assert.Equal(t, []string{"localhost:9092"}, SplitList("localhost:9092"))
}
