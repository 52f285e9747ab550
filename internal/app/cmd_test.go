package app

import "testing"

func TestParseCommand(t *testing.T) {
	cases := []struct {
		name     string
		args     []string
		want     Command
		wantRest int
	}{
		{"引数なしはワーカー", nil, CommandWorker, 0},
		{"worker指定", []string{"worker"}, CommandWorker, 0},
		{"run-onceとジョブ名", []string{"run-once", "news_pipeline"}, CommandRunOnce, 1},
		{"healthcheck指定", []string{"healthcheck"}, CommandHealthcheck, 0},
		{"未知のコマンドはワーカー", []string{"unknown"}, CommandWorker, 1},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cmd, rest := ParseCommand(c.args)
			if cmd != c.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", c.args, cmd, c.want)
			}
			if len(rest) != c.wantRest {
				t.Errorf("残りの引数 = %v, want %d件", rest, c.wantRest)
			}
		})
	}
}

func TestParseCommand_UnknownKeepsArgs(t *testing.T) {
	_, rest := ParseCommand([]string{"something", "else"})
	if len(rest) != 2 || rest[0] != "something" {
		t.Errorf("未知のコマンドでは引数がそのまま返るべき: %v", rest)
	}
}
