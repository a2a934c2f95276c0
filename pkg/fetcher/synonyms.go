package fetcher

import "strings"

// synonymDict maps a canonical tag to a platform search query expansion
// combining English and Japanese/Chinese aliases, ported from the
// source's TAG_TRANSLATIONS table.
var synonymDict = map[string]string{
	"white hair":  "白髪 OR 銀髪 OR white_hair",
	"silver hair": "銀髪 OR 白髪",
	"grey hair":   "灰髪",
	"black hair":  "黒髪",
	"blonde hair": "金髪",
	"red hair":    "赤髪",
	"blue hair":   "青髪",
	"pink hair":   "ピンク髪",
	"green hair":  "緑髪",
	"purple hair": "紫髪",
	"brown hair":  "茶髪",
	"long hair":   "ロングヘア OR 長髪",
	"short hair":  "ショートヘア OR 短髪",
	"twintails":   "ツインテール",
	"ponytail":    "ポニーテール",

	"large breasts":  "巨乳",
	"flat chest":     "貧乳",
	"maid":           "メイド",
	"swimsuit":       "水着",
	"school uniform": "セーラー服 OR 制服 OR ブレザー",
	"pantyhose":      "パンスト OR ストッキング",
	"thighhighs":     "ニーソ OR ニーソックス",
	"glasses":        "眼鏡 OR メガネ",
	"kimono":         "着物 OR 浴衣",
	"bunny suit":     "バニー OR バニーガール",
	"cat ears":       "猫耳 OR ネコミミ",

	"genshin impact": "原神 OR GenshinImpact",
	"blue archive":   "ブルーアーカイブ OR BlueArchive OR 碧蓝档案",
	"arknights":      "アークナイツ OR Arknights OR 明日方舟",
	"fate grand order": "FGO OR Fate/GrandOrder",
	"azur lane":      "アズールレーン",
	"hololive":       "ホロライブ",

	"scenery":   "風景",
	"cyberpunk": "サイバーパンク",
	"steampunk": "スチームパンク",
	"fantasy":   "ファンタジー",
}

// expandSynonyms translates a canonical tag into a platform search query,
// parenthesizing OR-joined alternatives to keep later AND composition
// unambiguous: "(A OR B) AND C".
func expandSynonyms(tag string) string {
	expanded, ok := synonymDict[tag]
	if !ok {
		return tag
	}
	if strings.Contains(expanded, " OR ") {
		return "(" + expanded + ")"
	}
	return expanded
}

// expandWithRaw folds the store-observed highest-frequency raw tag into
// the synonym-expanded query when it isn't already covered, matching the
// source's final_q1/final_q2 construction.
func expandWithRaw(tag, bestRaw string) string {
	base := expandSynonyms(tag)
	if bestRaw == tag || strings.Contains(base, bestRaw) {
		return base
	}
	if strings.HasPrefix(base, "(") && strings.HasSuffix(base, ")") {
		return base[:len(base)-1] + " OR " + bestRaw + ")"
	}
	return "(" + base + " OR " + bestRaw + ")"
}

// redundantPair reports whether two tags' expanded queries are
// duplicative: identical, or one textually contains the other.
func redundantPair(q1, q2, t1, t2 string) bool {
	if q1 == q2 {
		return true
	}
	return strings.Contains(q1, q2) || strings.Contains(q2, q1)
}
