package publish

import "fmt"

// Reference links the metric definition.
const Reference = "https://coronavirus.data.gov.uk/details/developers-guide/main-api#structure-metrics"

// Caption is the text posted, identically, on every platform.
func Caption(total int, latestDate string) string {
	return fmt.Sprintf(
		"Latest COVID-19 children (0-19 year) deaths for England - %d.\nLast updated on %s\n#COVID19 #python #pandas\nnewDeaths28DaysByDeathDateAgeDemographics\n%s",
		total, latestDate, Reference,
	)
}
