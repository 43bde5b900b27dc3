package format

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Default per-message item caps.
const (
	DefaultVendorCap = 25
	DefaultClientCap = 20
)

const footer = "🤖 _Enviado automaticamente pelo Akram Monitor_"

var (
	heavyRule = strings.Repeat("━", 30)
	lightRule = strings.Repeat("─", 20)
)

// ErrEmptyPayload is returned when there is nothing to render.
var ErrEmptyPayload = errors.New("format: empty payload")

// Options controls rendering. Now and Location fix the header timestamp so
// output is deterministic.
type Options struct {
	Now      time.Time
	Location *time.Location
	ItemCap  int
}

func (o Options) stamp() (string, string) {
	now := o.Now
	if now.IsZero() {
		now = time.Now()
	}
	if o.Location != nil {
		now = now.In(o.Location)
	}
	return now.Format(dateLayout), now.Format(timeLayout)
}

// Rendered is the output of one render call: one text per part, in send order.
type Rendered struct {
	Parts []string
	// Items holds the items of each part.
	Items [][]Item
}

func (r Rendered) Count() int { return len(r.Parts) }

// Client is the recipient context shown on client alerts.
type Client struct {
	Name         string
	LastPurchase *time.Time
}

// RenderVendor builds the broadcast alert for a registered contact.
func RenderVendor(items []Item, opt Options) (Rendered, error) {
	if opt.ItemCap <= 0 {
		opt.ItemCap = DefaultVendorCap
	}
	return render(items, opt, func(b *strings.Builder, part, total int, chunk []Item, first int) {
		writeVendor(b, opt, part, total, chunk, first)
	})
}

// RenderClient builds the personal alert for an inactive customer.
func RenderClient(c Client, items []Item, opt Options) (Rendered, error) {
	if opt.ItemCap <= 0 {
		opt.ItemCap = DefaultClientCap
	}
	return render(items, opt, func(b *strings.Builder, part, total int, chunk []Item, first int) {
		writeClient(b, c, opt, part, total, chunk, first)
	})
}

type partWriter func(b *strings.Builder, part, total int, chunk []Item, first int)

func render(items []Item, opt Options, write partWriter) (Rendered, error) {
	if len(items) == 0 {
		return Rendered{}, ErrEmptyPayload
	}
	chunks := Chunk(items, opt.ItemCap)
	out := Rendered{Parts: make([]string, 0, len(chunks)), Items: chunks}
	first := 1
	for i, chunk := range chunks {
		var b strings.Builder
		write(&b, i+1, len(chunks), chunk, first)
		out.Parts = append(out.Parts, b.String())
		first += len(chunk)
	}
	return out, nil
}

func line(b *strings.Builder, s string) {
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(s)
}

// categoryHeader writes a header when the label differs from *last.
func categoryHeader(b *strings.Builder, it Item, last *string) {
	label := displayLabel(it.Class)
	if label == *last {
		return
	}
	*last = label
	line(b, "")
	line(b, "🏷️ *"+label+"*")
	line(b, lightRule)
}

func writeVendor(b *strings.Builder, opt Options, part, total int, chunk []Item, first int) {
	day, clock := opt.stamp()
	line(b, "🚨 *ALERTA DE PRODUTOS* 🚨")
	line(b, "")
	line(b, fmt.Sprintf("📅 %s às %s", day, clock))
	if total > 1 {
		line(b, fmt.Sprintf("📋 Parte %d de %d", part, total))
	}
	line(b, fmt.Sprintf("📊 %d %s", len(chunk), plural(len(chunk), "produto", "produtos")))
	line(b, "")
	line(b, heavyRule)

	last := ""
	for i, it := range chunk {
		categoryHeader(b, it, &last)
		line(b, fmt.Sprintf("%s *%d. %s*", it.Tier().Emoji(), first+i, text(it.Description)))
		line(b, fmt.Sprintf("   📦 Cód: %s | 📦 Emb: %s", text(it.Code), text(it.Package)))
		line(b, fmt.Sprintf("   📅 Vence: %s | 📊 Qtd: %s", Date(it.Expiry), Quantity(it.Quantity)))
		line(b, fmt.Sprintf("   💰 *Valor: R$: %s* | 🏪 %s", Money(it.UnitPrice), text(it.Branch)))
	}

	line(b, "")
	line(b, heavyRule)
	line(b, "")
	line(b, footer)
}

func writeClient(b *strings.Builder, c Client, opt Options, part, total int, chunk []Item, first int) {
	day, clock := opt.stamp()
	line(b, "📋 *AVISO — PRODUTOS DISPONÍVEIS* 📋")
	line(b, "")
	line(b, "👤 *"+text(c.Name)+"*")
	line(b, "📅 Última compra: "+Date(c.LastPurchase))
	line(b, fmt.Sprintf("🕐 Enviado em: %s às %s", day, clock))
	if total > 1 {
		line(b, fmt.Sprintf("📄 Parte %d de %d", part, total))
	}
	line(b, "")
	line(b, fmt.Sprintf("📊 %d %s em destaque:", len(chunk), plural(len(chunk), "produto", "produtos")))
	line(b, "")
	line(b, heavyRule)

	last := ""
	for i, it := range chunk {
		categoryHeader(b, it, &last)
		line(b, "")
		line(b, fmt.Sprintf("%s *%d. %s*", it.Tier().Emoji(), first+i, text(it.Description)))
		line(b, "   🏷️ "+displayLabel(it.Class))
		line(b, fmt.Sprintf("   📦 Cód: %s | Emb: %s", text(it.Code), text(it.Package)))
		line(b, fmt.Sprintf("   📅 Vence: %s | Qtd: %s", Date(it.Expiry), Quantity(it.Quantity)))
		line(b, fmt.Sprintf("   💰 Valor: R$ %s | 🏪 %s", Money(it.AverageCost), text(it.Branch)))
	}

	line(b, "")
	line(b, heavyRule)
	line(b, "")
	line(b, "📞 _Entre em contato para fazer seu pedido!_")
	line(b, "")
	line(b, footer)
}

// TestMessage is the canned connectivity check.
func TestMessage(now time.Time, loc *time.Location) string {
	day, clock := Options{Now: now, Location: loc}.stamp()
	return "✅ *Akram Monitor — Teste de Conexão*\n\n" +
		fmt.Sprintf("📅 %s às %s\n\n", day, clock) +
		"Este é um teste do sistema de monitoramento.\n" +
		"Se você recebeu esta mensagem, a integração está funcionando! 🎉\n\n" +
		"_Enviado pelo Akram Monitor_"
}
