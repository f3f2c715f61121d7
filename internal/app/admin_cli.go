package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/hitoshi/mdbsite/internal/admin"
	"github.com/hitoshi/mdbsite/internal/backend"
	"github.com/hitoshi/mdbsite/internal/dashboard"
	"github.com/hitoshi/mdbsite/internal/model"
	"github.com/hitoshi/mdbsite/internal/session"
)

// ErrHelp は使い方を表示して終了したことを示す。
var ErrHelp = errors.New("help provided")

const (
	// cliConsoleID はCLIが使う管理コンソールのID。セッションはプロセス内にのみ保持する。
	cliConsoleID = "cli"

	signInTimeout = 5 * time.Second
)

// adminCLI は画像バケットの運用コマンド。
// ブラウザの管理画面と同じく、サイトの設定エンドポイントから接続情報を取得し、
// サインイン後にダッシュボードの操作フローで画像を扱う。
type adminCLI struct {
	out          io.Writer
	getenv       func(string) string
	readPassword func(fd int) ([]byte, error)
	isTerminal   func(fd int) bool
	newRegistry  func(siteURL string) *admin.Registry
}

func newAdminCLI(w io.Writer) *adminCLI {
	if w == nil {
		w = os.Stdout
	}
	return &adminCLI{
		out:          w,
		getenv:       os.Getenv,
		readPassword: term.ReadPassword,
		isTerminal:   term.IsTerminal,
		newRegistry: func(siteURL string) *admin.Registry {
			return admin.NewRegistry(admin.Options{
				Source:  backend.NewEndpointConfigSource(siteURL, nil),
				Storage: backend.NewMemoryStorage(),
			})
		},
	}
}

func (cli *adminCLI) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  admin [-site URL] [-email EMAIL] list              - list images in the bucket")
	fmt.Fprintln(cli.out, "  admin [-site URL] [-email EMAIL] upload FILE...    - upload image files")
	fmt.Fprintln(cli.out, "  admin [-site URL] [-email EMAIL] delete PATH...    - delete images by bucket path")
	fmt.Fprintln(cli.out, "  admin [-site URL] [-email EMAIL] clear             - delete every image")
	fmt.Fprintln(cli.out, "The password is read from ADMIN_PASSWORD or prompted.")
}

func (cli *adminCLI) run(args []string) error {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	fs.SetOutput(cli.out)
	site := fs.String("site", cli.defaultSite(), "site base URL (default: SITE_URL or BASE_URL)")
	email := fs.String("email", cli.getenv("ADMIN_EMAIL"), "admin email (default: ADMIN_EMAIL)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		cli.printUsage()
		return ErrHelp
	}
	sub, operands := rest[0], rest[1:]
	switch sub {
	case "list", "clear":
	case "upload", "delete":
		if len(operands) == 0 {
			cli.printUsage()
			return ErrHelp
		}
	default:
		cli.printUsage()
		return ErrHelp
	}
	if *site == "" || *email == "" {
		fs.Usage()
		return ErrHelp
	}

	password, err := cli.password()
	if err != nil {
		return err
	}

	ctx := context.Background()
	registry := cli.newRegistry(*site)
	defer registry.Close()

	console := registry.Get(ctx, cliConsoleID)
	if st := console.Watcher.State(); st.Error != "" {
		return fmt.Errorf("backend unavailable: %s", st.Error)
	}
	if _, err := console.Client.SignInAdmin(ctx, *email, password); err != nil {
		return fmt.Errorf("sign in failed: %s", model.DisplayMessage(err))
	}
	defer console.Client.SignOutAdmin(ctx)
	if err := awaitSignIn(ctx, console.Watcher, signInTimeout); err != nil {
		return err
	}
	user, err := console.Client.GetCurrentAdmin(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify admin session: %s", model.DisplayMessage(err))
	}
	if user == nil {
		return errors.New("admin session was rejected by the server")
	}
	fmt.Fprintf(cli.out, "signed in as %s\n", user.Email)

	dash := console.Dashboard
	if _, err := dash.Mount(ctx); err != nil {
		return fmt.Errorf("failed to load images: %s", model.DisplayMessage(err))
	}

	switch sub {
	case "list":
		return cli.list(dash)
	case "upload":
		return cli.upload(ctx, dash, operands)
	case "delete":
		return cli.delete(ctx, dash, operands)
	default:
		return cli.clear(ctx, dash)
	}
}

// awaitSignIn はセッション状態が認証済みになるまで待つ。
func awaitSignIn(ctx context.Context, w *session.Watcher, timeout time.Duration) error {
	if w.IsAuthenticated() {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case st, ok := <-w.Changes():
			if !ok {
				return errors.New("session watcher stopped before sign in completed")
			}
			if st.Authenticated() {
				return nil
			}
		case <-timer.C:
			return errors.New("timed out waiting for sign in")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (cli *adminCLI) defaultSite() string {
	if s := cli.getenv("SITE_URL"); s != "" {
		return s
	}
	return cli.getenv("BASE_URL")
}

func (cli *adminCLI) password() (string, error) {
	if p := cli.getenv("ADMIN_PASSWORD"); p != "" {
		return p, nil
	}
	fd := int(syscall.Stdin)
	if !cli.isTerminal(fd) {
		return "", errors.New("ADMIN_PASSWORD is not set and stdin is not a terminal")
	}
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := cli.readPassword(fd)
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		return "", errors.New("empty password")
	}
	return string(pwd), nil
}

func (cli *adminCLI) list(dash *dashboard.Dashboard) error {
	images := dash.Images()
	tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tURL")
	for _, img := range images {
		fmt.Fprintf(tw, "%s\t%s\n", img.Path, img.URL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d images\n", len(images))
	return nil
}

func (cli *adminCLI) upload(ctx context.Context, dash *dashboard.Dashboard, files []string) error {
	for _, name := range files {
		img, err := uploadFile(ctx, dash, name)
		if err != nil {
			return fmt.Errorf("upload %s failed: %s", name, model.DisplayMessage(err))
		}
		fmt.Fprintf(cli.out, "uploaded %s\t%s\n", img.Path, img.URL)
	}
	return nil
}

func uploadFile(ctx context.Context, dash *dashboard.Dashboard, name string) (model.StoredImage, error) {
	f, err := os.Open(name)
	if err != nil {
		return model.StoredImage{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return model.StoredImage{}, err
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		contentType = http.DetectContentType(head[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return model.StoredImage{}, err
		}
	}
	return dash.Upload(ctx, filepath.Base(name), f, info.Size(), contentType)
}

func (cli *adminCLI) delete(ctx context.Context, dash *dashboard.Dashboard, paths []string) error {
	for _, p := range paths {
		if err := dash.Delete(ctx, p); err != nil {
			return fmt.Errorf("delete %s failed: %s", p, model.DisplayMessage(err))
		}
		fmt.Fprintf(cli.out, "deleted %s\n", p)
	}
	return nil
}

// clear は表示中の全画像を一括削除する。一部が失敗した場合は失敗したパスを列挙する。
func (cli *adminCLI) clear(ctx context.Context, dash *dashboard.Dashboard) error {
	images := dash.Images()
	order := make([]string, len(images))
	for i, img := range images {
		order[i] = img.Path
	}

	if err := dash.ClearAll(ctx); err != nil {
		var bulkErr *dashboard.BulkDeleteError
		if errors.As(err, &bulkErr) {
			return fmt.Errorf("failed to delete %d of %d images: %s",
				len(bulkErr.Failed), len(order), strings.Join(bulkErr.FailedPaths(order), ", "))
		}
		return err
	}
	fmt.Fprintf(cli.out, "deleted %d images\n", len(order))
	return nil
}
