package codec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// libreOfficeToPDF は soffice --headless で in をPDFに変換します。
// soffice は出力名を選べないため、一時ディレクトリに書き出してから移動します。
func libreOfficeToPDF(ctx context.Context, runner Runner, bin, in, out string) error {
	tmp, err := os.MkdirTemp(filepath.Dir(out), ".soffice-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	args := []string{
		"-env:UserInstallation=file://" + filepath.ToSlash(filepath.Join(tmp, "profile")),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", tmp,
		in,
	}
	_, stderr, err := runner.Run(ctx, bin, args...)
	if err != nil {
		return toolError("libreoffice", stderr, err)
	}

	produced := filepath.Join(tmp, strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))+".pdf")
	if _, err := os.Stat(produced); err != nil {
		return fmt.Errorf("libreoffice: no output produced: %w", err)
	}
	return os.Rename(produced, out)
}

// pdftoppmFirstPage は1ページ目だけをラスタライズします。
func pdftoppmFirstPage(ctx context.Context, runner Runner, bin string, dpi int, in string, to Format, out string) error {
	prefix := strings.TrimSuffix(out, filepath.Ext(out))
	args := []string{"-f", "1", "-l", "1", "-singlefile", "-r", strconv.Itoa(dpi)}
	produced := prefix + ".png"
	if to == FormatJPG {
		args = append(args, "-jpeg")
		produced = prefix + ".jpg"
	} else {
		args = append(args, "-png")
	}
	args = append(args, in, prefix)

	_, stderr, err := runner.Run(ctx, bin, args...)
	if err != nil {
		return toolError("pdftoppm", stderr, err)
	}
	if produced != out {
		return os.Rename(produced, out)
	}
	return nil
}

// pdftotext はテキストレイヤーを抽出します。ページ区切りは \f になります。
func pdftotext(ctx context.Context, runner Runner, bin, in string) (string, error) {
	stdout, stderr, err := runner.Run(ctx, bin, "-layout", "-enc", "UTF-8", in, "-")
	if err != nil {
		return "", toolError("pdftotext", stderr, err)
	}
	return string(stdout), nil
}
