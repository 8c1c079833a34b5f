package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/room4-2/iacfarm/app"
	"github.com/room4-2/iacfarm/attachment"
	"github.com/room4-2/iacfarm/audio"
	"github.com/room4-2/iacfarm/chat"
	"github.com/room4-2/iacfarm/config"
	"github.com/room4-2/iacfarm/session"
	"github.com/room4-2/iacfarm/speech"
)

const chatHelp = `Comandos:
  /foto <arquivo>        anexa foto ou vídeo à próxima mensagem
  /camera <arquivo>      anexa uma foto tirada agora
  /cancelar              remove o anexo
  /identificar <arquivo> identifica a planta da foto
  /ouvir [n]             ouve a última resposta (ou a mensagem n)
  /parar                 para o áudio
  /local <lat> <lng>     informa sua localização
  /ajuda                 mostra esta ajuda
  /sair                  encerra`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant, send photos and listen to answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			r := newREPL(a.Config, a.SessionServices(), audio.NewController(newSink(a.Log), a.Log), a.Log)
			if lat, lng, ok := coords(cmd); ok {
				r.geo.Set(chat.GeoContext{Lat: lat, Lng: lng})
			}
			defer r.orch.Wait()
			return r.run(ctx, os.Stdin, cmd.OutOrStdout())
		})
	},
}

func init() {
	coordFlags(chatCmd)
	rootCmd.AddCommand(chatCmd)
}

// repl is one terminal conversation.
type repl struct {
	conv   *chat.Conversation
	orch   *chat.Orchestrator
	speech *speech.Bridge
	geo    *chat.GeoCell
	stager attachment.Stager
}

func newREPL(cfg *config.Config, svc session.Services, player *audio.Controller, log *zap.Logger) *repl {
	conv := chat.NewConversation(chat.Greeting(time.Now()))
	geo := chat.NewGeoCell(svc.FarmGeo)
	return &repl{
		conv: conv,
		geo:  geo,
		orch: chat.NewOrchestrator(conv, svc.Inference, svc.Gateway, player, geo, chat.Options{
			InferenceTimeout: cfg.InferenceTimeout,
			PersistTimeout:   cfg.PersistTimeout,
			Logger:           log,
		}),
		speech: speech.NewBridge(conv, svc.Synthesizer, player, cfg.SpeechTimeout, log),
	}
}

func (r *repl) run(ctx context.Context, in io.Reader, out io.Writer) error {
	for _, m := range r.conv.Finals() {
		printMessage(out, m)
	}
	fmt.Fprintln(out, "Digite /ajuda para ver os comandos.")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if done := r.handle(ctx, strings.TrimSpace(scanner.Text()), out); done {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handle runs one input line and reports whether the user asked to leave.
func (r *repl) handle(ctx context.Context, line string, out io.Writer) bool {
	command, arg := splitCommand(line)
	switch command {
	case "":
		if line == "" && r.stager.Peek() == nil {
			return false
		}
		r.send(ctx, out, line, r.stager.Take())
	case "/sair":
		r.speech.Stop()
		return true
	case "/ajuda":
		fmt.Fprintln(out, chatHelp)
	case "/foto", "/camera":
		source := attachment.SourceGallery
		if command == "/camera" {
			source = attachment.SourceCamera
		}
		att, err := loadAttachment(source, arg)
		if err != nil {
			fmt.Fprintf(out, "⚠️  %v\n", err)
			return false
		}
		r.stager.Stage(att)
		fmt.Fprintf(out, "📎 %s anexado (%s, %s)\n", att.DisplayRef, att.MediaType, humanize.Bytes(uint64(att.Size)))
	case "/cancelar":
		if r.stager.Discard() {
			fmt.Fprintln(out, "📎 anexo removido")
		}
	case "/identificar":
		att, err := loadAttachment(attachment.SourceIdentify, arg)
		if err != nil {
			fmt.Fprintf(out, "⚠️  %v\n", err)
			return false
		}
		fmt.Fprintln(out, "🌿 Identificando...")
		_ = r.orch.Identify(ctx, att)
		r.printReply(out)
	case "/ouvir":
		id, ok := speakTarget(r.conv.Finals(), arg)
		if !ok {
			fmt.Fprintln(out, "⚠️  nenhuma resposta para ouvir")
			return false
		}
		fmt.Fprintln(out, describeSpeak(r.speech.Speak(ctx, id)))
	case "/parar":
		r.speech.Stop()
	case "/local":
		lat, lng, err := parseCoords(arg)
		if err != nil {
			fmt.Fprintf(out, "⚠️  %v\n", err)
			return false
		}
		if r.geo.Set(chat.GeoContext{Lat: lat, Lng: lng}) {
			fmt.Fprintln(out, "📍 localização registrada")
		} else {
			fmt.Fprintln(out, "📍 a localização já foi informada nesta conversa")
		}
	default:
		fmt.Fprintf(out, "⚠️  comando desconhecido %s\n", command)
	}
	return false
}

func (r *repl) send(ctx context.Context, out io.Writer, text string, att *attachment.Attachment) {
	fmt.Fprintln(out, "🤔 Pensando...")
	_ = r.orch.Send(ctx, text, att)
	r.printReply(out)
}

func (r *repl) printReply(out io.Writer) {
	finals := r.conv.Finals()
	if len(finals) > 0 {
		printMessage(out, finals[len(finals)-1])
	}
}

func printMessage(out io.Writer, m chat.Message) {
	who := "🧑"
	if m.Role == chat.RoleAssistant {
		who = "🌱"
	}
	fmt.Fprintf(out, "%s %s\n", who, m.Content)
}

// splitCommand separates "/cmd rest". Plain text has an empty command.
func splitCommand(line string) (command, arg string) {
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	command, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(command), strings.TrimSpace(arg)
}

// speakTarget picks the message to play: the nth final message when arg is
// a number, otherwise the latest assistant reply.
func speakTarget(finals []chat.Message, arg string) (string, bool) {
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(finals) {
			return "", false
		}
		return finals[n-1].ID, true
	}
	for i := len(finals) - 1; i >= 0; i-- {
		if finals[i].Role == chat.RoleAssistant {
			return finals[i].ID, true
		}
	}
	return "", false
}

func describeSpeak(res speech.Result) string {
	switch res {
	case speech.Started:
		return "🔊 tocando, use /parar para interromper"
	case speech.Stopped:
		return "🔇 áudio parado"
	case speech.Loading:
		return "⏳ o áudio ainda está sendo gerado"
	case speech.EmptyTarget:
		return "⚠️  essa mensagem não tem texto para ler"
	default:
		return "⚠️  áudio indisponível"
	}
}

func parseCoords(arg string) (float64, float64, error) {
	fields := strings.Fields(strings.ReplaceAll(arg, ",", " "))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("use /local <lat> <lng>")
	}
	lat, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("latitude inválida %q", fields[0])
	}
	lng, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || lng < -180 || lng > 180 {
		return 0, 0, fmt.Errorf("longitude inválida %q", fields[1])
	}
	return lat, lng, nil
}

func loadAttachment(source attachment.Source, path string) (*attachment.Attachment, error) {
	if path == "" {
		return nil, fmt.Errorf("informe o arquivo")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return attachment.Capture(source, filepath.Base(path), "", f)
}
