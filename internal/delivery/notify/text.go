package notify

import (
	"strings"

	"mzigo/internal/delivery/fsm"
)

// Text is the title and body of a push.
type Text struct {
	Title string
	Body  string
}

var statusTexts = map[string]map[fsm.Status]Text{
	"en": {
		fsm.StatusDriverAssigned:   {Title: "Driver assigned", Body: "A driver has accepted your delivery."},
		fsm.StatusEnRouteToPickup:  {Title: "Driver on the way", Body: "Your driver is heading to the pickup point."},
		fsm.StatusAtPickup:         {Title: "Driver at pickup", Body: "Your driver has arrived at the pickup point."},
		fsm.StatusEnRouteToDropoff: {Title: "Package on the way", Body: "Your package is on its way to the destination."},
		fsm.StatusDelivered:        {Title: "Delivered", Body: "Your package has been delivered. Rate your driver!"},
		fsm.StatusCancelled:        {Title: "Delivery cancelled", Body: "Your delivery has been cancelled."},
	},
	"sw": {
		fsm.StatusDriverAssigned:   {Title: "Dereva amepatikana", Body: "Dereva amekubali usafirishaji wako."},
		fsm.StatusEnRouteToPickup:  {Title: "Dereva yuko njiani", Body: "Dereva wako anaelekea mahali pa kuchukua mzigo."},
		fsm.StatusAtPickup:         {Title: "Dereva amefika", Body: "Dereva wako amefika mahali pa kuchukua mzigo."},
		fsm.StatusEnRouteToDropoff: {Title: "Mzigo uko njiani", Body: "Mzigo wako uko njiani kuelekea unakoenda."},
		fsm.StatusDelivered:        {Title: "Umefikishwa", Body: "Mzigo wako umefikishwa. Mpe dereva alama!"},
		fsm.StatusCancelled:        {Title: "Usafirishaji umesitishwa", Body: "Usafirishaji wako umesitishwa."},
	},
}

// statusText returns the push text in the device language, English when the
// language is unknown.
func statusText(lang string, status fsm.Status) (Text, bool) {
	texts, ok := statusTexts[strings.ToLower(strings.TrimSpace(lang))]
	if !ok {
		texts = statusTexts["en"]
	}
	text, ok := texts[status]
	return text, ok
}
