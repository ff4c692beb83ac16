package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Centavos é o valor monetário em unidades mínimas (R$ 1,00 == 100)
type Centavos int64

var cem = decimal.NewFromInt(100)

// CentavosFromDecimal converte um valor em reais para centavos.
// Valores com mais de duas casas decimais são rejeitados.
func CentavosFromDecimal(d decimal.Decimal) (Centavos, error) {
	shifted := d.Mul(cem)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("valor %s tem mais de duas casas decimais", d.String())
	}
	if shifted.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || shifted.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("valor %s fora do intervalo suportado", d.String())
	}
	return Centavos(shifted.IntPart()), nil
}

// Decimal retorna o valor em reais
func (c Centavos) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String retorna o valor em reais com duas casas ("150.00")
func (c Centavos) String() string {
	return c.Decimal().StringFixed(2)
}

// FormatBRL formata o valor no padrão brasileiro ("R$ 1.234,56")
func FormatBRL(c Centavos) string {
	sinal := ""
	// em uint64 a negação também vale para math.MinInt64
	v := uint64(c)
	if c < 0 {
		sinal = "-"
		v = -v
	}

	reais := strconv.FormatUint(v/100, 10)
	var b strings.Builder
	for i, r := range reais {
		if i > 0 && (len(reais)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	return fmt.Sprintf("%sR$ %s,%02d", sinal, b.String(), v%100)
}

// MulQuantidade calcula preco * quantidade detectando overflow
func MulQuantidade(preco Centavos, quantidade int) (Centavos, bool) {
	if quantidade <= 0 || preco < 0 {
		return 0, false
	}
	if preco != 0 && int64(quantidade) > math.MaxInt64/int64(preco) {
		return 0, false
	}
	return preco * Centavos(quantidade), true
}
