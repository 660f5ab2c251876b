package textproc

var stopwords = toSet([]string{
	// es
	"de", "la", "que", "el", "en", "los", "del", "se", "las", "por", "un", "para",
	"con", "no", "una", "su", "al", "lo", "como", "más", "mas", "pero", "sus", "le", "ya", "este",
	"sí", "porque", "esta", "entre", "cuando", "muy", "sin", "sobre", "también", "me", "hasta",
	"hay", "donde", "quien", "desde", "todo", "nos", "durante", "todos", "uno", "les", "ni",
	"contra", "otros", "ese", "eso", "ante", "ellos", "esto", "mí", "antes", "algunos",
	"qué", "unos", "yo", "otro", "otras", "otra", "él", "tanto", "esa", "estos", "mucho", "quienes",
	"nada", "muchos", "cual", "poco", "ella", "estar", "estas", "algunas", "algo", "nosotros",
	"mis", "tú", "te", "ti", "tu", "tus", "ellas", "nosotras", "vosotros", "vosotras",
	"mío", "mía", "míos", "mías", "tuyo", "tuya", "tuyos", "tuyas", "suyo", "suya", "suyos", "suyas",
	"nuestro", "nuestra", "nuestros", "nuestras", "vuestro", "vuestra", "vuestros", "vuestras",
	"esos", "esas", "estoy", "estás", "está", "estamos", "están", "esté", "estaba", "estaban",
	"estuvo", "estado", "han", "haya", "había", "habían", "hubo", "soy", "eres", "somos", "son",
	"sea", "sean", "será", "serán", "sería", "era", "eran", "fue", "fueron", "fuera", "tengo",
	"tienes", "tiene", "tenemos", "tienen", "tenga", "tenía", "tuvo", "teniendo", "tenido",
	"aquí", "así", "cómo", "ahora", "cada", "hace", "hacer", "puede", "pueden", "solo", "sólo",
	"video", "vídeo", "videos", "vídeos", "canal", "suscríbete", "suscribete",
	// en
	"the", "and", "for", "are", "but", "not", "you", "all", "any", "can", "had", "her", "was",
	"one", "our", "out", "has", "him", "his", "how", "its", "who", "did", "get", "may", "she",
	"use", "this", "that", "with", "have", "from", "they", "will", "would", "there", "their",
	"what", "about", "which", "when", "make", "like", "just", "your", "into", "than", "them",
	"then", "some", "could", "these", "other", "more", "only", "also", "been", "were", "here",
	"subscribe", "channel",
	// pt
	"não", "uma", "com", "mais", "isso", "você", "para", "pelo", "pela", "seu", "sua",
})

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func IsStopword(word string) bool {
	_, ok := stopwords[word]
	return ok
}
