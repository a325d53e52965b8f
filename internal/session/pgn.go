package session

import (
    "fmt"
    "strings"
    "time"
)

func buildPGN(g *Game, pgnResult string) string {
    if g == nil {
        return ""
    }
    var b strings.Builder
    date := g.ended
    if date.IsZero() {
        date = g.started
    }
    if date.IsZero() {
        date = time.Now()
    }
    // headers
    b.WriteString("[Event \"Cheese Relay\"]\n")
    b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(g.id)))
    b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
    b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.white.ID())))
    b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.black.ID())))
    if strings.TrimSpace(g.reason) != "" {
        b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(g.reason)))
    }
    b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

    // moves from SAN with numbering
    for i := 0; i < len(g.log); i += 2 {
        turn := (i / 2) + 1
        b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(g.log[i].SAN)))
        if i+1 < len(g.log) {
            b.WriteString(" ")
            b.WriteString(strings.TrimSpace(g.log[i+1].SAN))
        }
        b.WriteString(" ")
    }
    if pgnResult != "" {
        b.WriteString(pgnResult)
    }
    return b.String()
}

func sanitizePGN(s string) string {
    s = strings.ReplaceAll(s, "\\", " ")
    s = strings.ReplaceAll(s, "\"", "'")
    return strings.TrimSpace(s)
}
