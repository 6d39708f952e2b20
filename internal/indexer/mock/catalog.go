package mock

// Media is a movie or series the mock backend has releases for.
type Media struct {
	Title  string
	Year   int
	TmdbID int
	TvdbID int
	ImdbID int
}

// movieCatalog contains all movies that have mock releases.
var movieCatalog = []Media{
	{Title: "The Matrix", Year: 1999, TmdbID: 603, ImdbID: 133093},
	{Title: "Fight Club", Year: 1999, TmdbID: 550, ImdbID: 137523},
	{Title: "Pulp Fiction", Year: 1994, TmdbID: 680, ImdbID: 110912},
	{Title: "The Dark Knight", Year: 2008, TmdbID: 155, ImdbID: 468569},
	{Title: "The Shawshank Redemption", Year: 1994, TmdbID: 278, ImdbID: 111161},
	{Title: "Inception", Year: 2010, TmdbID: 27205, ImdbID: 1375666},
	{Title: "Interstellar", Year: 2014, TmdbID: 157336, ImdbID: 816692},
	{Title: "Dune Part Two", Year: 2024, TmdbID: 693134, ImdbID: 15239678},
	{Title: "Oppenheimer", Year: 2023, TmdbID: 872585, ImdbID: 15398776},
	{Title: "Inside Out 2", Year: 2024, TmdbID: 1022789, ImdbID: 22022452},
}

// tvCatalog contains all series that have mock releases.
var tvCatalog = []Media{
	{Title: "Breaking Bad", Year: 2008, TvdbID: 81189, ImdbID: 903747},
	{Title: "Stranger Things", Year: 2016, TvdbID: 305288, ImdbID: 4574334},
	{Title: "The Last of Us", Year: 2023, TvdbID: 392256, ImdbID: 3581920},
	{Title: "Better Call Saul", Year: 2015, TvdbID: 273181, ImdbID: 3032476},
	{Title: "The Mandalorian", Year: 2019, TvdbID: 361753, ImdbID: 8111088},
	{Title: "Arcane", Year: 2021, TvdbID: 371028, ImdbID: 11126994},
}
