package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandWorker はワーカーモード（スケジューラ + 運用サーバー）で
	// 起動することを示す。
	CommandWorker Command = "worker"
	// CommandRunOnce は指定ジョブを1回だけ実行することを示す。
	// 動作確認・初回データ投入用。
	CommandRunOnce Command = "run-once"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドと残りの引数を解析する。
// 引数が空またはサポート外のコマンドの場合はCommandWorkerを返す。
func ParseCommand(args []string) (Command, []string) {
	if len(args) == 0 {
		return CommandWorker, nil
	}

	switch args[0] {
	case "worker":
		return CommandWorker, args[1:]
	case "run-once":
		return CommandRunOnce, args[1:]
	case "healthcheck":
		return CommandHealthcheck, args[1:]
	default:
		return CommandWorker, args
	}
}
